// Package envelope defines the versioned message envelope used by every
// swarm component. Synchronous request/reply and asynchronous
// fire-and-forget exchanges both travel as a Frame, so cancellation,
// retry, and deduplication semantics stay uniform across both modes.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Version is the current body schema version stamped on new frames.
// Bodies evolve additively; receivers must tolerate unknown fields.
const Version = 1

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
)

// Frame is the message envelope. Every message exchanged between the
// coordinator, worker agents, the lock manager, and consensus voters is
// a Frame.
type Frame struct {
	// ID uniquely identifies this frame (a "msg" TypeID string).
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g. "task.submit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request. Receivers
	// deduplicate by it: resubmitting an already-answered request
	// returns the cached response instead of re-executing.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Sender is the transport address of the originating component.
	Sender string `json:"sender,omitempty" msgpack:"sender,omitempty"`

	// Seq is the per-sender monotonically increasing sequence number.
	// Receivers discard out-of-order duplicates of event frames.
	Seq uint64 `json:"seq" msgpack:"seq"`

	// Retry counts how many times this frame has been re-sent.
	Retry int `json:"retry,omitempty" msgpack:"retry,omitempty"`

	// Version is the body schema version.
	Version int `json:"version" msgpack:"version"`

	// Body carries the method-specific payload.
	Body json.RawMessage `json:"body,omitempty" msgpack:"body,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Well-known error codes.
const (
	ErrCodeBadRequest = 400
	ErrCodeNotFound   = 404
	ErrCodeConflict   = 409
	ErrCodeStale      = 412
	ErrCodeBusy       = 423
	ErrCodeInternal   = 500
)

// NewRequest creates a request frame for the given method. The frame's
// own ID doubles as the correlation identifier for its response.
func NewRequest(sender, method string, body any) (*Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	mid := id.NewMessageID().String()
	return &Frame{
		ID:        mid,
		Type:      FrameRequest,
		Method:    method,
		CorrelID:  mid,
		Sender:    sender,
		Version:   Version,
		Body:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponse creates a response to the given request frame.
func NewResponse(req *Frame, body any) (*Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewMessageID().String(),
		Type:      FrameResponse,
		CorrelID:  req.CorrelID,
		Version:   Version,
		Body:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to the given request frame.
func NewErrorFrame(req *Frame, code int, message string) *Frame {
	return &Frame{
		ID:       id.NewMessageID().String(),
		Type:     FrameErr,
		CorrelID: req.CorrelID,
		Version:  Version,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEvent creates a fire-and-forget event frame. Events carry no
// correlation identifier; delivery is best-effort and loss-tolerant.
func NewEvent(sender, method string, body any) (*Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewMessageID().String(),
		Type:      FrameEvent,
		Method:    method,
		Sender:    sender,
		Version:   Version,
		Body:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodeBody unmarshals the frame body into target.
func (f *Frame) DecodeBody(target any) error {
	if len(f.Body) == 0 {
		return nil
	}
	return json.Unmarshal(f.Body, target)
}

// IsError reports whether the frame is an error frame.
func (f *Frame) IsError() bool { return f.Type == FrameErr }
