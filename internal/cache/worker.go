package cache

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sheetview/internal/grid"
	"sheetview/internal/logging"
	"sheetview/internal/storage"
)

// Request asks the worker for one range of one sheet. Gen and Seq are echoed
// back so the cache can discard stale results.
type Request struct {
	Sheet grid.Sheet
	Range Range
	Gen   uint64
	Seq   uint64
}

// Result is a completed Request.
type Result struct {
	Request
	Rows []grid.Row
	Err  error
}

const queueSize = 64

// Worker fetches rows in background goroutines. Identical in-flight ranges
// share one source read.
type Worker struct {
	src      storage.Source
	requests chan Request
	results  chan Result
	group    singleflight.Group
	eg       *errgroup.Group
	done     <-chan struct{}
	cancel   context.CancelFunc
	log      *slog.Logger
}

// NewWorker starts n fetch goroutines (at least one) that run until Close or
// until ctx is cancelled.
func NewWorker(ctx context.Context, src storage.Source, n int) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	w := &Worker{
		src:      src,
		requests: make(chan Request, queueSize),
		results:  make(chan Result, queueSize),
		eg:       eg,
		done:     ctx.Done(),
		cancel:   cancel,
		log:      logging.WithFields(ctx, "component", "worker"),
	}
	n = max(n, 1)
	for i := 0; i < n; i++ {
		eg.Go(func() error { return w.run(ctx) })
	}
	w.log.Debug("started", "goroutines", n)
	return w
}

// Submit queues req without blocking. It reports false when the queue is full.
func (w *Worker) Submit(req Request) bool {
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// Prune takes the queued requests that stale reports true for out of the
// queue and returns them. The rest keep their order.
func (w *Worker) Prune(stale func(Request) bool) []Request {
	var dropped, kept []Request
drain:
	for {
		select {
		case req := <-w.requests:
			if stale(req) {
				dropped = append(dropped, req)
			} else {
				kept = append(kept, req)
			}
		default:
			break drain
		}
	}
	for _, req := range kept {
		if !w.Submit(req) {
			dropped = append(dropped, req)
		}
	}
	return dropped
}

// Done is closed once the worker is told to stop.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Results delivers completed requests.
func (w *Worker) Results() <-chan Result { return w.results }

// Close stops the goroutines and waits for them.
func (w *Worker) Close() error {
	w.cancel()
	err := w.eg.Wait()
	w.log.Debug("stopped")
	return err
}

func (w *Worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.requests:
			key := fmt.Sprintf("%s#%d@%d:%d-%d", req.Sheet.Name, req.Sheet.Index, req.Gen, req.Range.Start, req.Range.End)
			v, err, shared := w.group.Do(key, func() (any, error) {
				return w.src.FetchRows(ctx, req.Sheet, req.Range.Start, req.Range.End)
			})
			rows, _ := v.([]grid.Row)
			if shared {
				w.log.Debug("shared fetch", "key", key)
			}
			select {
			case w.results <- Result{Request: req, Rows: rows, Err: err}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
