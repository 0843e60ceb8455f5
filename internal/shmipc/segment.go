package shmipc

import "sync/atomic"

// Segment is one named shared-memory region plus its header and its two
// semaphores (spec.md §3). It is the unit of data transfer and the unit of
// flow control between exactly one proxy worker and one cache worker at a
// time.
//
// Segment hides the raw mapping and publishes only the rendezvous verbs
// from spec.md §9: PublishHeader/PublishFrame/PublishEOF (cache side),
// ConsumeHeader/AckHeader/ConsumeFrame/AckFrame/Drain (proxy side).
type Segment struct {
	name    string
	segsize int
	mem     []byte
	hdr     *wireHeader
	wsem    *futexSem
	rsem    *futexSem
	owned   bool // true for the side that created (and must destroy) the mapping
}

// Name returns the segment's OS-visible name ("/shm_<pid>_<i>").
func (s *Segment) Name() string { return s.name }

// Segsize returns the payload buffer capacity in bytes.
func (s *Segment) Segsize() int { return s.segsize }

// payload returns the slice of the mapping following the header.
func (s *Segment) payload() []byte {
	return s.mem[headerSize : headerSize+s.segsize]
}

// createSegment creates and maps a brand-new segment (proxy/pool side) and
// initializes its semaphores exactly once, per spec.md §9's pinned answer
// to the re-initialization Open Question.
func createSegment(name string, segsize int) (*Segment, error) {
	mem, err := shmCreate(name, segsize)
	if err != nil {
		return nil, err
	}

	hdr := castHeader(mem)
	copy(hdr.Name[:], name)
	hdr.Segsize = uint32(segsize)

	seg := &Segment{
		name:    name,
		segsize: segsize,
		mem:     mem,
		hdr:     hdr,
		wsem:    newFutexSem(name+":w", &hdr.SemW, 0),
		rsem:    newFutexSem(name+":r", &hdr.SemR, 1),
		owned:   true,
	}
	seg.resetLocked()
	return seg, nil
}

// attachSegment maps an already-created segment by name (cache worker
// side). It must never re-initialize the semaphores: doing so would race
// a proxy worker that may already be waiting on rsem from a prior or
// concurrent transfer (spec.md §9, second Open Question).
func attachSegment(name string, segsize int) (*Segment, error) {
	mem, err := shmAttach(name, segsize)
	if err != nil {
		return nil, err
	}
	hdr := castHeader(mem)
	return &Segment{
		name:    name,
		segsize: segsize,
		mem:     mem,
		hdr:     hdr,
		wsem:    attachFutexSem(name+":w", &hdr.SemW),
		rsem:    attachFutexSem(name+":r", &hdr.SemR),
		owned:   false,
	}, nil
}

// AttachSegment maps an already-created, named segment from outside the
// package (the cache worker only ever learns a segment's name and size
// over the request channel, never a *Segment value). See attachSegment.
func AttachSegment(name string, segsize int) (*Segment, error) {
	return attachSegment(name, segsize)
}

// detach unmaps a segment mapped via attachSegment, without touching the
// underlying named object (the pool owns its lifetime).
func (s *Segment) detach() error {
	s.wsem.release()
	s.rsem.release()
	return shmUnmap(s.mem)
}

// Detach unmaps a segment obtained via AttachSegment. The cache worker
// calls this once per transfer, after PublishEOF (or after posting an
// error header); it never unlinks the named object, since the pool on the
// proxy side owns that object's lifetime.
func (s *Segment) Detach() error {
	return s.detach()
}

// destroy unmaps and unlinks a segment created via createSegment.
func (s *Segment) destroy() error {
	s.wsem.release()
	s.rsem.release()
	if err := shmUnmap(s.mem); err != nil {
		return err
	}
	if s.owned {
		return shmUnlink(s.name)
	}
	return nil
}

// resetLocked resets the scalar fields to the idle state described in
// spec.md §3 ("Segment lifecycle"). Callers (pool.Release) must hold
// whatever external lock protects pool membership; the fields themselves
// are only ever touched by the side that currently owns the segment.
func (s *Segment) resetLocked() {
	atomic.StoreUint32(&s.hdr.Status, uint32(StatusNone))
	atomic.StoreUint64(&s.hdr.FileSize, 0)
	atomic.StoreUint32(&s.hdr.BytesWritten, 0)
}
