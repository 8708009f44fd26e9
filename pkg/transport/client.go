package transport

import (
	"context"
)

// Client performs one request/response exchange. The returned channel
// delivers deltas in order and is closed when the response ends. A terminal
// failure is delivered as a Chunk with Err set. Implementations stop sending
// when ctx is cancelled.
type Client interface {
	Exchange(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (<-chan Chunk, error)

func (f ClientFunc) Exchange(ctx context.Context, req *Request) (<-chan Chunk, error) {
	return f(ctx, req)
}
