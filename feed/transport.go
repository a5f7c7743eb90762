package feed

import "context"

// Transport is one push-channel connection attempt. Open dials the remote
// side and returns once the channel is established, spawning whatever
// background receive machinery the transport needs; failures after Open are
// reported through onDown, at most once. Implementations invoke callbacks
// from their own goroutines; the manager serializes behind its mutex.
//
// A Transport is single-use: after Close or onDown it is discarded and the
// manager builds a fresh one for the next attempt.
type Transport interface {
	Open(ctx context.Context, onPayload func([]byte), onDown func(error)) error
	Close() error
}

// TransportFactory builds a fresh Transport per connection attempt, so a
// failed channel never leaks state into the next one.
type TransportFactory func() Transport
