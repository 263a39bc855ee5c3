package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/envelope"
)

// Inproc is a channel-free in-process Bus for single-process clusters
// and tests. Handlers run on the caller's goroutine for requests and on
// a detached goroutine for fire-and-forget frames. Every frame crosses
// the bus through the configured codec, exactly as it would a real
// wire, so handlers never share memory with senders.
type Inproc struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool

	seqMu sync.Mutex
	seqs  map[string]uint64 // per-sender outbound sequence

	// flight collapses concurrent attempts with the same correlation ID
	// onto one handler execution; responses keeps finished executions
	// for later resubmissions.
	flight    singleflight.Group
	recvMu    sync.Mutex
	responses map[string]*envelope.Frame   // correlation ID -> cached response
	lastSeq   map[string]map[string]uint64 // addr -> sender -> highest seq seen
}

// NewInproc creates an in-process bus.
func NewInproc(opts Options, logger *slog.Logger) *Inproc {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	if opts.RetryBackoff == nil {
		opts.RetryBackoff = DefaultOptions().RetryBackoff
	}
	if opts.Codec == nil {
		opts.Codec = DefaultOptions().Codec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inproc{
		opts:      opts,
		logger:    logger,
		handlers:  make(map[string]HandlerFunc),
		seqs:      make(map[string]uint64),
		responses: make(map[string]*envelope.Frame),
		lastSeq:   make(map[string]map[string]uint64),
	}
}

// Subscribe registers a handler for frames addressed to addr.
func (b *Inproc) Subscribe(addr string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[addr] = h
}

// Unsubscribe removes the handler for addr.
func (b *Inproc) Unsubscribe(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, addr)
}

// Close tears down the bus.
func (b *Inproc) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string]HandlerFunc)
	return nil
}

func (b *Inproc) handler(addr string) (HandlerFunc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, swarm.ErrBusClosed
	}
	h, ok := b.handlers[addr]
	if !ok {
		return nil, swarm.ErrNoSubscriber
	}
	return h, nil
}

// nextSeq stamps the frame with the sender's next sequence number.
// Frames that already carry a sequence keep it, so a retried request
// resends the identical frame.
func (b *Inproc) nextSeq(f *envelope.Frame) {
	if f.Seq != 0 {
		return
	}
	b.seqMu.Lock()
	b.seqs[f.Sender]++
	f.Seq = b.seqs[f.Sender]
	b.seqMu.Unlock()
}

// Request implements Bus. Retries reuse the original correlation ID so
// the receiver serves the cached response for attempts that executed
// but whose response was lost to a timeout.
func (b *Inproc) Request(ctx context.Context, to string, f *envelope.Frame) (*envelope.Frame, error) {
	b.nextSeq(f)

	var lastErr error
	for attempt := 0; attempt <= b.opts.Retries; attempt++ {
		if attempt > 0 {
			f.Retry = attempt
			delay := b.opts.RetryBackoff(attempt)
			b.logger.Debug("retrying request",
				slog.String("to", to),
				slog.String("method", f.Method),
				slog.String("correl_id", f.CorrelID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := b.attempt(ctx, to, f)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, swarm.ErrRequestTimeout) && !errors.Is(err, swarm.ErrNoSubscriber) {
			return nil, err
		}
	}
	return nil, lastErr
}

// overWire round-trips a frame through the codec, producing the copy a
// receiver would decode off a real transport.
func (b *Inproc) overWire(f *envelope.Frame) (*envelope.Frame, error) {
	data, err := b.opts.Codec.Encode(f)
	if err != nil {
		return nil, err
	}
	return b.opts.Codec.Decode(data)
}

func (b *Inproc) attempt(ctx context.Context, to string, f *envelope.Frame) (*envelope.Frame, error) {
	h, err := b.handler(to)
	if err != nil {
		return nil, err
	}

	// Concurrent attempts with the same correlation ID join the one
	// in-flight execution; attempts after it finished get the cached
	// response. Either way the handler runs at most once per ID.
	ch := b.flight.DoChan(f.CorrelID, func() (any, error) {
		b.recvMu.Lock()
		if cached, ok := b.responses[f.CorrelID]; ok {
			b.recvMu.Unlock()
			return cached, nil
		}
		b.recvMu.Unlock()

		wire, err := b.overWire(f)
		if err != nil {
			return nil, err
		}

		// The execution outlives a timed-out caller so its response
		// can still be cached for the retry.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.RequestTimeout)
		defer cancel()
		resp := h(hctx, wire)
		if resp != nil {
			if resp, err = b.overWire(resp); err != nil {
				return nil, err
			}
			b.recvMu.Lock()
			b.responses[f.CorrelID] = resp
			b.recvMu.Unlock()
		}
		return resp, nil
	})

	attemptCtx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp, _ := res.Val.(*envelope.Frame)
		if resp == nil {
			// Handler produced no reply within its window.
			return nil, swarm.ErrRequestTimeout
		}
		return resp, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, swarm.ErrRequestTimeout
	}
}

// Send implements Bus. Duplicate or out-of-order frames from the same
// sender are dropped based on the per-sender sequence number.
func (b *Inproc) Send(ctx context.Context, to string, f *envelope.Frame) error {
	b.nextSeq(f)

	h, err := b.handler(to)
	if err != nil {
		return err
	}

	b.recvMu.Lock()
	seen := b.lastSeq[to]
	if seen == nil {
		seen = make(map[string]uint64)
		b.lastSeq[to] = seen
	}
	if f.Seq <= seen[f.Sender] {
		b.recvMu.Unlock()
		b.logger.Debug("dropping stale frame",
			slog.String("to", to),
			slog.String("sender", f.Sender),
			slog.Uint64("seq", f.Seq),
			slog.Uint64("last_seq", seen[f.Sender]),
		)
		return nil
	}
	seen[f.Sender] = f.Seq
	b.recvMu.Unlock()

	wire, err := b.overWire(f)
	if err != nil {
		return err
	}
	go h(context.WithoutCancel(ctx), wire)
	return nil
}

var _ Bus = (*Inproc)(nil)
