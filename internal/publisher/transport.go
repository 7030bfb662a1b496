// Package publisher emits the discovered, parse_request, and extracted
// messages through an injectable broker transport.
//
// DESIGN: The transport contract is "return once the broker accepted the
// frame, error otherwise". Delivery is at-least-once; consumers dedupe on
// correlation ids. Outgoing messages are struct-validated before marshal
// so the queues never see a malformed frame.
package publisher

import "context"

// Transport is the broker the publisher writes through.
type Transport interface {
	// Publish sends payload under routingKey and returns once the broker
	// has accepted the frame.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// HealthCheck reports broker reachability.
	HealthCheck(ctx context.Context) bool

	// Close releases the connection.
	Close() error
}
