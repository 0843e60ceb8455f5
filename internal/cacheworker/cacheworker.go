// Package cacheworker implements the cache daemon's half of the core
// (spec.md §4.5): an endless receive/attach/publish/detach loop driven by
// the request channel, producing frames into whichever segment a proxy
// worker named.
package cacheworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nabbar/gtfileserver/internal/metrics"
	"github.com/nabbar/gtfileserver/internal/reqchan"
	"github.com/nabbar/gtfileserver/internal/shmipc"
	"github.com/nabbar/gtfileserver/internal/simplecache"

	liblog "github.com/nabbar/golib/logger"
	startstop "github.com/nabbar/golib/runner/startStop"
)

// Listener is the request-channel receive side a cache worker needs; it
// never holds a shmipc.Pool itself (segments belong to the proxy
// process), only the ability to attach to one by name once a record
// names it.
type Listener interface {
	Receive(ctx context.Context) (reqchan.Record, error)
}

// Worker runs M concurrent loops (spec.md §4.5, "Workers share the MQ
// descriptor; concurrency is bounded by worker count M") each built on
// golib's runner/startStop.New, matching the rest of the corpus's worker
// lifecycle idiom.
type Worker struct {
	listener Listener
	cache    *simplecache.Cache
	log      liblog.Logger
	met      *metrics.Registry

	runners []runner

	// ArtificialDelay reproduces the original daemon's "-d delay_usecs"
	// knob: a per-request sleep inserted before streaming begins, useful
	// for exercising the pipeline's backpressure (spec.md §5) under a
	// deliberately slow cache side. Zero disables it.
	ArtificialDelay time.Duration
}

// runner is the subset of golib's startStop.StartStop this package
// relies on, named locally so this field doesn't depend on guessing that
// type's exact exported spelling.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// New builds a cache worker pool of count goroutines, none started yet.
func New(listener Listener, cache *simplecache.Cache, log liblog.Logger, met *metrics.Registry, count int) *Worker {
	if count <= 0 {
		count = 1
	}
	w := &Worker{
		listener: listener,
		cache:    cache,
		log:      log,
		met:      met,
		runners:  make([]runner, count),
	}
	for i := 0; i < count; i++ {
		w.runners[i] = startstop.New(w.run, w.stop)
	}
	return w
}

// Start launches every worker goroutine.
func (w *Worker) Start(ctx context.Context) error {
	for i, r := range w.runners {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("cacheworker: start worker %d: %w", i, err)
		}
	}
	return nil
}

// Stop signals every worker goroutine to finish its current request and
// exit its loop.
func (w *Worker) Stop(ctx context.Context) error {
	var firstErr error
	for _, r := range w.runners {
		if err := r.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) run(ctx context.Context) error {
	for {
		rec, err := w.listener.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.log.Error("reqchan receive failed", nil, err)
			continue
		}
		w.handle(rec)
	}
}

func (w *Worker) stop(_ context.Context) error { return nil }

// handle performs the full producer role of spec.md §4.3 for one request
// record: attach, publish a header, stream (or not) the file's bytes,
// detach. Per §4.6, a mapping failure drops the request after logging it
// (the proxy's wait on that segment has no timeout and stays blocked); any
// failure after a successful mapping still posts an error header so the
// proxy is not left hanging on sem_w.
func (w *Worker) handle(rec reqchan.Record) {
	seg, err := shmipc.AttachSegment(rec.SegmentName, int(rec.Segsize))
	if err != nil {
		w.log.Error("attach segment failed", rec.SegmentName, err)
		return
	}
	defer func() {
		if err := seg.Detach(); err != nil {
			w.log.Error("detach segment failed", rec.SegmentName, err)
		}
	}()

	if w.ArtificialDelay > 0 {
		time.Sleep(w.ArtificialDelay)
	}

	file, size, ok := w.cache.Get(rec.Path)
	if !ok {
		if err := seg.PublishHeader(shmipc.StatusNotFound, 0); err != nil {
			w.log.Error("publish not-found header failed", rec.SegmentName, err)
		}
		if w.met != nil {
			w.met.RequestsFailed.WithLabelValues("not_found").Inc()
		}
		return
	}
	defer func() { _ = file.Close() }()

	if err := seg.PublishHeader(shmipc.StatusOK, size); err != nil {
		w.log.Error("publish header failed", rec.SegmentName, err)
		return
	}

	if err := w.stream(seg, file); err != nil {
		w.log.Error("stream failed", rec.Path, err)
	}
}

// stream publishes the file's contents as a sequence of Segsize()-bounded
// frames, then the terminal EOF frame. A read error mid-stream still
// posts EOF (spec.md §4.6, "File read error mid-stream: Post EOF frame;
// proxy sees short transfer") rather than leaving the proxy waiting.
func (w *Worker) stream(seg *shmipc.Segment, file fileReader) error {
	buf := make([]byte, seg.Segsize())
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if pubErr := seg.PublishFrame(buf[:n]); pubErr != nil {
				return pubErr
			}
			if w.met != nil {
				w.met.FramesTransferred.Inc()
				w.met.BytesTransferred.Add(float64(n))
			}
		}
		if err != nil {
			return seg.PublishEOF()
		}
	}
}

type fileReader interface {
	Read(p []byte) (int, error)
}
