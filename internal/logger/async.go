package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler buffers debug and info records for a pool of writers so the
// collector and evaluator hot paths never block on stdout. Records at or
// above syncLevel are written inline and are never dropped.
type AsyncHandler struct {
	inner     slog.Handler
	syncLevel slog.Level
	shared    *asyncState
}

type asyncState struct {
	mu      sync.RWMutex // guards ch against send after close
	ch      chan asyncRecord
	wg      sync.WaitGroup
	closed  bool
	dropped atomic.Int64
}

// asyncRecord keeps the handler a record was logged through, so WithAttrs
// and WithGroup survive the hop to the writer.
type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler starts workers draining a buffer of chanSize records.
// Warnings and errors bypass the buffer.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan asyncRecord, chanSize)}
	for range max(workers, 1) {
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			for r := range st.ch {
				_ = r.h.Handle(context.Background(), r.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, syncLevel: slog.LevelWarn, shared: st}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle writes warnings and errors inline and enqueues everything else,
// dropping it when the buffer is full or the handler is closed.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if rec.Level >= h.syncLevel {
		return h.inner.Handle(ctx, rec)
	}
	st := h.shared
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		st.dropped.Add(1)
		return nil
	}
	select {
	case st.ch <- asyncRecord{h: h.inner, rec: rec.Clone()}:
	default:
		st.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), syncLevel: h.syncLevel, shared: h.shared}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), syncLevel: h.syncLevel, shared: h.shared}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close drains the buffer and reports drops once. Safe to call twice.
func (h *AsyncHandler) Close() {
	st := h.shared
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	close(st.ch)
	st.mu.Unlock()

	st.wg.Wait()
	if n := st.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
