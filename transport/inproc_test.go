package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/backoff"
	"github.com/hugoboss23-5/swarm/envelope"
)

func testOptions() Options {
	return Options{
		RequestTimeout: 100 * time.Millisecond,
		Retries:        2,
		RetryBackoff:   backoff.Fixed(5 * time.Millisecond),
	}
}

func TestRequestResponse(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		resp, err := envelope.NewResponse(f, map[string]string{"pong": "yes"})
		if err != nil {
			t.Errorf("NewResponse: %v", err)
		}
		return resp
	})

	req, err := envelope.NewRequest("worker-1", "ping", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := bus.Request(context.Background(), "coordinator", req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.CorrelID != req.ID {
		t.Fatalf("correl ID = %q, want %q", resp.CorrelID, req.ID)
	}
	if resp.Type != envelope.FrameResponse {
		t.Fatalf("type = %q, want response", resp.Type)
	}
}

func TestRequestNoSubscriber(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	_, err := bus.Request(context.Background(), "nobody", req)
	if !errors.Is(err, swarm.ErrNoSubscriber) {
		t.Fatalf("err = %v, want ErrNoSubscriber", err)
	}
}

func TestRequestTimeoutThenRetryServesCachedResponse(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	var executions atomic.Int64
	release := make(chan struct{})
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		n := executions.Add(1)
		if n == 1 {
			// First attempt is slow: the caller times out but the
			// handler still finishes and its response gets cached.
			<-release
		}
		resp, _ := envelope.NewResponse(f, map[string]int64{"execution": n})
		return resp
	})

	req, _ := envelope.NewRequest("worker-1", "task.report", nil)

	go func() {
		time.Sleep(150 * time.Millisecond)
		close(release)
	}()

	resp, err := bus.Request(context.Background(), "coordinator", req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	var body map[string]int64
	if derr := resp.DecodeBody(&body); derr != nil {
		t.Fatalf("DecodeBody: %v", derr)
	}
	// Whichever attempt produced the response, the handler must have
	// executed exactly once: the retry hit the cache or the cached
	// first-execution response was served.
	if got := executions.Load(); got != 1 {
		t.Fatalf("handler executed %d times, want 1", got)
	}
	if body["execution"] != 1 {
		t.Fatalf("execution = %d, want 1", body["execution"])
	}
}

func TestRequestIdempotentResubmission(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	var executions atomic.Int64
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		executions.Add(1)
		resp, _ := envelope.NewResponse(f, map[string]string{"ok": "yes"})
		return resp
	})

	req, _ := envelope.NewRequest("worker-1", "task.report", nil)

	for i := range 3 {
		if _, err := bus.Request(context.Background(), "coordinator", req); err != nil {
			t.Fatalf("Request %d: %v", i, err)
		}
	}
	if got := executions.Load(); got != 1 {
		t.Fatalf("handler executed %d times for same correl ID, want 1", got)
	}
}

func TestRequestExhaustsRetries(t *testing.T) {
	t.Parallel()
	bus := NewInproc(Options{
		RequestTimeout: 20 * time.Millisecond,
		Retries:        1,
		RetryBackoff:   backoff.Fixed(time.Millisecond),
	}, nil)

	bus.Subscribe("coordinator", func(ctx context.Context, _ *envelope.Frame) *envelope.Frame {
		<-ctx.Done()
		return nil
	})

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	_, err := bus.Request(context.Background(), "coordinator", req)
	if !errors.Is(err, swarm.ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
}

func TestRequestContextCancel(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	bus.Subscribe("coordinator", func(ctx context.Context, _ *envelope.Frame) *envelope.Frame {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	_, err := bus.Request(ctx, "coordinator", req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	got := make(chan *envelope.Frame, 1)
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		got <- f
		return nil
	})

	ev, err := envelope.NewEvent("worker-1", "node.heartbeat", map[string]int{"load": 2})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := bus.Send(context.Background(), "coordinator", ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case f := <-got:
		if f.Method != "node.heartbeat" {
			t.Fatalf("method = %q", f.Method)
		}
		if f.Seq == 0 {
			t.Fatal("frame not stamped with sequence number")
		}
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestSendDropsStaleSequence(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	var mu sync.Mutex
	var seqs []uint64
	delivered := make(chan struct{}, 8)
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
		delivered <- struct{}{}
		return nil
	})

	ctx := context.Background()
	first, _ := envelope.NewEvent("worker-1", "node.heartbeat", nil)
	second, _ := envelope.NewEvent("worker-1", "node.heartbeat", nil)
	if err := bus.Send(ctx, "coordinator", first); err != nil {
		t.Fatalf("Send first: %v", err)
	}
	if err := bus.Send(ctx, "coordinator", second); err != nil {
		t.Fatalf("Send second: %v", err)
	}
	<-delivered
	<-delivered

	// Replaying the first frame must be dropped: its sequence is behind.
	if err := bus.Send(ctx, "coordinator", first); err != nil {
		t.Fatalf("Send replay: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("stale frame was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 2 || seqs[0] >= seqs[1] {
		t.Fatalf("seqs = %v, want two increasing values", seqs)
	}
}

func TestSendNoSubscriber(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	ev, _ := envelope.NewEvent("worker-1", "node.heartbeat", nil)
	if err := bus.Send(context.Background(), "nobody", ev); !errors.Is(err, swarm.ErrNoSubscriber) {
		t.Fatalf("err = %v, want ErrNoSubscriber", err)
	}
}

func TestClosedBusRejectsTraffic(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)
	bus.Subscribe("coordinator", func(_ context.Context, _ *envelope.Frame) *envelope.Frame {
		return nil
	})
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	if _, err := bus.Request(context.Background(), "coordinator", req); !errors.Is(err, swarm.ErrBusClosed) {
		t.Fatalf("Request err = %v, want ErrBusClosed", err)
	}
	ev, _ := envelope.NewEvent("worker-1", "node.heartbeat", nil)
	if err := bus.Send(context.Background(), "coordinator", ev); !errors.Is(err, swarm.ErrBusClosed) {
		t.Fatalf("Send err = %v, want ErrBusClosed", err)
	}
}

// countingCodec wraps another codec and tallies how many frames it
// encodes, so a test can prove traffic really crosses it.
type countingCodec struct {
	inner   envelope.Codec
	encodes atomic.Int64
}

func (c *countingCodec) Name() string { return c.inner.Name() }

func (c *countingCodec) Encode(f *envelope.Frame) ([]byte, error) {
	c.encodes.Add(1)
	return c.inner.Encode(f)
}

func (c *countingCodec) Decode(data []byte) (*envelope.Frame, error) {
	return c.inner.Decode(data)
}

func TestRequestRoundTripsThroughCodec(t *testing.T) {
	t.Parallel()
	codec := &countingCodec{inner: envelope.GetCodec(envelope.CodecNameJSON)}
	opts := testOptions()
	opts.Codec = codec
	bus := NewInproc(opts, nil)

	var handlerFrame *envelope.Frame
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		handlerFrame = f
		resp, _ := envelope.NewResponse(f, map[string]string{"ok": "yes"})
		return resp
	})

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	resp, err := bus.Request(context.Background(), "coordinator", req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	// Request and response each cross the codec once.
	if got := codec.encodes.Load(); got != 2 {
		t.Fatalf("codec encoded %d frames, want 2", got)
	}
	// The handler works on a decoded copy, never the caller's frame.
	if handlerFrame == req {
		t.Fatal("handler received the sender's frame pointer")
	}
	if handlerFrame.ID != req.ID || handlerFrame.Method != req.Method {
		t.Fatalf("decoded frame diverged: got %q/%q", handlerFrame.ID, handlerFrame.Method)
	}
	if resp.CorrelID != req.ID {
		t.Fatalf("correl ID = %q, want %q", resp.CorrelID, req.ID)
	}
}

func TestSendDecouplesHandlerFromSender(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)

	got := make(chan *envelope.Frame, 1)
	bus.Subscribe("coordinator", func(_ context.Context, f *envelope.Frame) *envelope.Frame {
		got <- f
		return nil
	})

	ev, _ := envelope.NewEvent("worker-1", "node.heartbeat", map[string]int{"load": 2})
	if err := bus.Send(context.Background(), "coordinator", ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case f := <-got:
		if f == ev {
			t.Fatal("handler received the sender's frame pointer")
		}
		var body map[string]int
		if err := f.DecodeBody(&body); err != nil {
			t.Fatalf("DecodeBody: %v", err)
		}
		if body["load"] != 2 {
			t.Fatalf("load = %d, want 2", body["load"])
		}
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewInproc(testOptions(), nil)
	bus.Subscribe("coordinator", func(_ context.Context, _ *envelope.Frame) *envelope.Frame {
		return nil
	})
	bus.Unsubscribe("coordinator")

	req, _ := envelope.NewRequest("worker-1", "ping", nil)
	if _, err := bus.Request(context.Background(), "coordinator", req); !errors.Is(err, swarm.ErrNoSubscriber) {
		t.Fatalf("err = %v, want ErrNoSubscriber", err)
	}
}
