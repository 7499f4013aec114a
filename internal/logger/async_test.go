package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 && rec.Level < slog.LevelWarn {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingProxy{parent: h, attrs: attrs}
}
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// recordingProxy appends its attrs before forwarding to the parent.
type recordingProxy struct {
	parent *recordingHandler
	attrs  []slog.Attr
}

func (p *recordingProxy) Enabled(context.Context, slog.Level) bool { return true }
func (p *recordingProxy) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	rec.AddAttrs(p.attrs...)
	return p.parent.Handle(ctx, rec)
}
func (p *recordingProxy) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingProxy{parent: p.parent, attrs: append(append([]slog.Attr{}, p.attrs...), attrs...)}
}
func (p *recordingProxy) WithGroup(string) slog.Handler { return p }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func info(msg string) slog.Record { return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0) }

func TestAsyncHandler_ConcurrentWrites(t *testing.T) {
	const goroutines, perGoroutine = 50, 100
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, goroutines*perGoroutine, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), info("polled"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(slog.LevelInfo); got != goroutines*perGoroutine {
		t.Fatalf("expected %d records, got %d", goroutines*perGoroutine, got)
	}
}

func TestAsyncHandler_WarningsNeverDropped(t *testing.T) {
	inner := &recordingHandler{delay: 10 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 20 {
		_ = ah.Handle(context.Background(), info("flood"))
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "poll failed", 0))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped")
	}
	// 20 errors plus the drop summary
	if got := inner.count(slog.LevelError); got != 20 {
		t.Fatalf("expected all 20 errors, got %d", got)
	}
	if got := inner.count(slog.LevelWarn); got != 1 {
		t.Fatalf("expected one drop summary, got %d", got)
	}
	if got, want := int64(inner.count(slog.LevelInfo)), 20-ah.DroppedCount(); got != want {
		t.Fatalf("expected %d info records, got %d", want, got)
	}
}

func TestAsyncHandler_WithAttrsSurvivesBuffer(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	h := ah.WithAttrs([]slog.Attr{slog.String("channel_id", "x-main")})

	_ = h.Handle(context.Background(), info("polled"))
	ah.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(inner.records))
	}
	found := false
	inner.records[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "channel_id" && a.Value.String() == "x-main" {
			found = true
		}
		return true
	})
	if !found {
		t.Fatal("attrs added with WithAttrs were lost")
	}
}

func TestAsyncHandler_CloseIdempotentAndDropsLate(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 100, 2)
	for range 10 {
		_ = ah.Handle(context.Background(), info("before"))
	}
	ah.Close()
	ah.Close()

	if got := inner.count(slog.LevelInfo); got != 10 {
		t.Fatalf("expected 10 records after close, got %d", got)
	}
	if err := ah.Handle(context.Background(), info("late")); err != nil {
		t.Fatal(err)
	}
	if ah.DroppedCount() != 1 {
		t.Fatalf("late record should count as dropped, got %d", ah.DroppedCount())
	}
}
