// Package transport moves envelope frames between swarm members. It
// offers two modes over one frame format: synchronous request/response
// with bounded timeout and retry, and asynchronous fire-and-forget
// delivery for heartbeats and events.
//
// Delivery is idempotent on the receiving side: responses are cached by
// correlation ID, so a retried request cannot execute twice. Frames
// carry per-sender sequence numbers; receivers drop out-of-order
// duplicates of fire-and-forget frames.
package transport

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/backoff"
	"github.com/hugoboss23-5/swarm/envelope"
)

// HandlerFunc processes an inbound frame addressed to a subscriber.
// For request frames the returned frame is delivered back to the
// caller; for fire-and-forget frames the return value is discarded.
type HandlerFunc func(ctx context.Context, f *envelope.Frame) *envelope.Frame

// Bus is the communication contract between coordinator and workers.
type Bus interface {
	// Request sends a frame to the given address and blocks until a
	// response arrives, the timeout elapses, or ctx is cancelled.
	// Timed-out and undeliverable requests are retried with backoff;
	// the same correlation ID is reused so the receiver can serve a
	// cached response instead of executing twice.
	Request(ctx context.Context, to string, f *envelope.Frame) (*envelope.Frame, error)

	// Send delivers a frame without waiting for a response. Delivery is
	// best-effort: an unreachable address returns an error, a slow
	// handler does not block the caller.
	Send(ctx context.Context, to string, f *envelope.Frame) error

	// Subscribe registers a handler for frames addressed to addr.
	// A second subscription for the same address replaces the first.
	Subscribe(addr string, h HandlerFunc)

	// Unsubscribe removes the handler for addr.
	Unsubscribe(addr string)

	// Close tears down the bus. Subsequent operations fail.
	Close() error
}

// Options tune request behaviour for a Bus.
type Options struct {
	// RequestTimeout bounds a single request attempt.
	RequestTimeout time.Duration

	// Retries is the number of additional attempts after the first
	// failed or timed-out request.
	Retries int

	// RetryBackoff computes the delay before each retry attempt.
	RetryBackoff backoff.Policy

	// Codec serializes frames on the wire. Every delivery round-trips
	// through it, so a handler never aliases the sender's frame.
	Codec envelope.Codec
}

// DefaultOptions returns the request tuning used when none is given.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 5 * time.Second,
		Retries:        2,
		RetryBackoff:   backoff.FullJitter(50*time.Millisecond, time.Second),
		Codec:          envelope.GetCodec(envelope.CodecNameMsgpack),
	}
}
