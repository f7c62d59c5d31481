//go:build protogen

package grpcserver

import (
	"context"

	propertyv1 "github.com/stayloop/stayloop/protos/gen/property/v1"
	"github.com/stayloop/stayloop/services/property-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type server struct {
	propertyv1.UnimplementedPropertyServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	propertyv1.RegisterPropertyServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetProperty(ctx context.Context, req *propertyv1.PropertyRequest) (*propertyv1.PropertyResponse, error) {
	if req.GetPropertyId() == "" {
		return nil, status.Error(codes.InvalidArgument, "property_id is required")
	}

	p, err := s.repo.Get(ctx, req.GetPropertyId())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "property not found")
		}
		return nil, status.Error(codes.Internal, "failed to load property")
	}

	return &propertyv1.PropertyResponse{
		PropertyId:        p.ID,
		OwnerId:           p.OwnerID,
		Title:             p.Title,
		Location:          p.Location,
		NightlyPriceCents: p.NightlyPriceCents,
		Currency:          p.Currency,
		MaxGuests:         int32(p.MaxGuests),
		IsActive:          p.IsActive,
	}, nil
}
