//go:build !protogen

package property

import (
	"log/slog"

	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

func NewPropertyProvider(_ *slog.Logger, repo *storage.PropertyCacheRepository, _ string) (Provider, error) {
	return NewCacheProvider(repo), nil
}
