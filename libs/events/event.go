// Package events carries the transactional outbox, the inbox dedup table and
// the Kafka consumer loop shared by every Stayloop service. Events are written
// to outbox_events in the same transaction as the state change they describe
// and relayed to Kafka by a Publisher goroutine; consumers record event ids in
// inbox_events before handling so redeliveries are ignored.
package events

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (production-style: event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
