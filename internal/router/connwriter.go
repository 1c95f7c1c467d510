package router

import (
	"log/slog"
	"sync"

	"github.com/larry-lines/justIRC/internal/logging"
	"github.com/larry-lines/justIRC/internal/metrics"
	"github.com/larry-lines/justIRC/internal/wire"
)

// outboundQueueSize is the high-water mark on a connection's outbound
// frame queue. Past this, the oldest queued frame is dropped
// rather than blocking the router goroutine on a slow reader.
const outboundQueueSize = 256

// connWriter adapts one connection's wire.Writer into sessiontable.Writer:
// Enqueue never blocks the caller, handing the frame to a dedicated drain
// goroutine over a bounded channel with a drop-oldest backpressure policy.
type connWriter struct {
	out    *wire.Writer
	logger *slog.Logger
	m      *metrics.Metrics

	mu     sync.Mutex
	queue  []*wire.Frame
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newConnWriter(out *wire.Writer, logger *slog.Logger, m *metrics.Metrics) *connWriter {
	w := &connWriter{
		out:    out,
		logger: logger,
		m:      m,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.drain()
	return w
}

// Enqueue implements sessiontable.Writer. It reports whether the frame was
// accepted; false after the writer has been closed or when frame is not a
// *wire.Frame.
func (w *connWriter) Enqueue(frame any) bool {
	f, ok := frame.(*wire.Frame)
	if !ok {
		return false
	}

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return false
	default:
	}

	if len(w.queue) >= outboundQueueSize {
		w.queue = w.queue[1:]
		if w.logger != nil {
			w.logger.Warn("dropping oldest queued frame, outbound queue full",
				logging.KeyComponent, "router")
		}
		if w.m != nil {
			w.m.RecordFrameDropped("queue_full")
		}
	}
	w.queue = append(w.queue, f)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Close stops the drain goroutine; frames still queued are not written.
// It does not close the underlying transport.
func (w *connWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (w *connWriter) drain() {
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			f := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			if err := w.out.WriteFrame(f); err != nil {
				if w.logger != nil {
					w.logger.Debug("write failed, closing connection",
						logging.KeyComponent, "router", logging.KeyError, err.Error())
				}
				w.Close()
				return
			}
		}
	}
}
