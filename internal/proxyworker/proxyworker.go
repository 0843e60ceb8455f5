// Package proxyworker implements the proxy's half of the core (spec.md
// §4.4): the per-request callback that acquires a segment, hands a
// request record to the cache daemon, consumes its reply, and forwards
// the file to the GetFile client — draining the segment instead of
// leaking it if the client goes away mid-transfer.
package proxyworker

import (
	"context"
	"time"

	"github.com/nabbar/gtfileserver/internal/getfile"
	"github.com/nabbar/gtfileserver/internal/metrics"
	"github.com/nabbar/gtfileserver/internal/reqchan"
	"github.com/nabbar/gtfileserver/internal/shmipc"

	liblog "github.com/nabbar/golib/logger"
)

// Handler wires a Pool and a request channel Sender into a
// getfile.Handler; the segsize sent to the cache comes from each acquired
// segment. One Handler is shared by every connection the GetFile server
// accepts; the N in "N proxy worker threads" (spec.md §5) is enforced by
// the caller (cmd/gtproxy's gatedHandler), not by a field held here.
type Handler struct {
	pool   *shmipc.Pool
	sender *reqchan.Sender
	log    liblog.Logger
	met    *metrics.Registry
}

// New builds a Handler bound to pool (for segment acquire/release) and
// sender (for posting request records to the cache daemon).
func New(pool *shmipc.Pool, sender *reqchan.Sender, log liblog.Logger, met *metrics.Registry) *Handler {
	return &Handler{pool: pool, sender: sender, log: log, met: met}
}

// Serve implements getfile.Handler: given a path and a response Context,
// it acquires a segment, requests the file from the cache daemon, and
// streams whatever comes back. Every acquire is paired with exactly one
// release, on every exit path (spec.md §4.4).
func (h *Handler) Serve(ctx getfile.Context, path string) {
	seg, err := h.pool.Acquire(context.Background())
	if err != nil {
		h.log.Error("acquire segment failed", path, err)
		h.fail(ctx)
		return
	}
	if h.met != nil {
		h.met.SegmentsIdle.Set(float64(h.pool.Idle()))
	}
	defer func() {
		h.pool.Release(seg)
		if h.met != nil {
			h.met.SegmentsIdle.Set(float64(h.pool.Idle()))
		}
	}()

	rec := reqchan.Record{Path: path, SegmentName: seg.Name(), Segsize: uint64(seg.Segsize())}
	if err := h.sender.Send(rec); err != nil {
		h.log.Error("send request record failed", path, err)
		h.fail(ctx)
		return
	}

	waitStart := time.Now()
	hdr, err := seg.ConsumeHeader()
	if h.met != nil {
		h.met.ObserveWait(waitStart)
	}
	if err != nil {
		h.log.Error("consume header failed", path, err)
		h.fail(ctx)
		return
	}
	if err := seg.AckHeader(); err != nil {
		h.log.Error("ack header failed", path, err)
		h.fail(ctx)
		return
	}

	status := toGetfileStatus(hdr.Status)
	if _, err := ctx.SendHeader(status, hdr.FileSize); err != nil {
		h.log.Error("send header to client failed", path, err)
		h.recordFailure(status)
		if hdr.Status == shmipc.StatusOK {
			drainFromStart(seg)
		}
		return
	}

	if hdr.Status != shmipc.StatusOK {
		h.recordFailure(status)
		return
	}

	h.stream(ctx, seg, path)
}

// stream forwards frames to the client until EOF. A client write failure
// switches to Drain so the cache worker posting the remaining frames
// never blocks forever on a rsem nobody will post again (spec.md §4.3,
// "Drain").
func (h *Handler) stream(ctx getfile.Context, seg *shmipc.Segment, path string) {
	for {
		frame, err := seg.ConsumeFrame()
		if err != nil {
			h.log.Error("consume frame failed", path, err)
			return
		}
		if frame.EOF {
			_ = seg.AckFrame()
			return
		}

		if _, err := ctx.Send(frame.Data); err != nil {
			h.log.Error("client write failed, draining segment", path, err)
			// Drain acks this frame itself; acking it here first would be
			// a double post against sem_r.
			_ = seg.Drain()
			return
		}
		if h.met != nil {
			h.met.FramesTransferred.Inc()
			h.met.BytesTransferred.Add(float64(len(frame.Data)))
		}
		if err := seg.AckFrame(); err != nil {
			h.log.Error("ack frame failed", path, err)
			return
		}
	}
}

// drainFromStart consumes and acks every remaining frame without having
// first read one via ConsumeFrame (unlike Segment.Drain, which assumes its
// caller already holds one unacked frame from a prior ConsumeFrame).
func drainFromStart(seg *shmipc.Segment) {
	for {
		frame, err := seg.ConsumeFrame()
		if err != nil {
			return
		}
		if frame.EOF {
			_ = seg.AckFrame()
			return
		}
		_ = seg.AckFrame()
	}
}

func (h *Handler) fail(ctx getfile.Context) {
	h.recordFailure(getfile.StatusError)
	_, _ = ctx.SendHeader(getfile.StatusError, 0)
}

func (h *Handler) recordFailure(status getfile.Status) {
	if h.met == nil || status == getfile.StatusOK {
		return
	}
	h.met.RequestsFailed.WithLabelValues(status.String()).Inc()
}

func toGetfileStatus(s shmipc.Status) getfile.Status {
	switch s {
	case shmipc.StatusOK:
		return getfile.StatusOK
	case shmipc.StatusNotFound:
		return getfile.StatusFileNotFound
	default:
		return getfile.StatusError
	}
}
