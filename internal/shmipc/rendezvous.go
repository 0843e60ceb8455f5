package shmipc

import (
	"sync/atomic"
)

// PublishHeader is the cache worker's first move in a transfer (spec.md
// §4.3, frame [R0]): it writes status+file_size, then posts wsem. No
// payload bytes are valid at this point. The cache worker does not wait on
// rsem first — this implementation pins the first Open Question in
// spec.md §9 to "header posted before rsem is acquired".
//
// After posting a StatusOK header it takes one rsem count (the segment's
// initial one, or the proxy's AckHeader), so every following PublishFrame
// or PublishEOF waits for the proxy's ack of the publication before it. A
// non-OK header ends the transfer with no rsem wait; Pool.Release then
// restores the idle counts.
func (s *Segment) PublishHeader(status Status, fileSize int64) error {
	atomic.StoreUint32(&s.hdr.Status, uint32(status))
	atomic.StoreUint64(&s.hdr.FileSize, uint64(fileSize))
	if err := s.wsem.Post(); err != nil {
		return err
	}
	if status != StatusOK {
		return nil
	}
	return s.rsem.Wait()
}

// PublishFrame waits for the proxy to free the payload buffer (rsem), then
// publishes one data frame: 1 <= len(data) <= Segsize(). Use PublishEOF to
// terminate the stream.
func (s *Segment) PublishFrame(data []byte) error {
	if err := s.rsem.Wait(); err != nil {
		return err
	}
	n := copy(s.payload(), data)
	atomic.StoreUint32(&s.hdr.BytesWritten, uint32(n))
	return s.wsem.Post()
}

// PublishEOF waits for the proxy to free the payload buffer, then posts the
// terminal frame (bytes_written == 0).
func (s *Segment) PublishEOF() error {
	if err := s.rsem.Wait(); err != nil {
		return err
	}
	atomic.StoreUint32(&s.hdr.BytesWritten, 0)
	return s.wsem.Post()
}

// ConsumeHeader is the proxy worker's first move: wait for wsem, then read
// status+file_size (frame [R0]).
func (s *Segment) ConsumeHeader() (Header, error) {
	if err := s.wsem.Wait(); err != nil {
		return Header{}, err
	}
	return Header{
		Status:   Status(atomic.LoadUint32(&s.hdr.Status)),
		FileSize: int64(atomic.LoadUint64(&s.hdr.FileSize)),
	}, nil
}

// AckHeader posts rsem once a header has been consumed (frame [R1]). The
// proxy posts it for every header, OK or not, before replying to the client.
func (s *Segment) AckHeader() error {
	return s.rsem.Post()
}

// ConsumeFrame waits for the cache worker's next frame (wsem), returning
// the payload slice (valid only until the next call) or EOF=true once
// bytes_written observes 0. The caller must still post rsem (via AckFrame)
// once it is done reading Data, exactly once per ConsumeFrame call.
func (s *Segment) ConsumeFrame() (Frame, error) {
	if err := s.wsem.Wait(); err != nil {
		return Frame{}, err
	}
	n := atomic.LoadUint32(&s.hdr.BytesWritten)
	if n == 0 {
		return Frame{EOF: true}, nil
	}
	return Frame{Data: s.payload()[:n]}, nil
}

// AckFrame posts rsem, releasing the payload buffer back to the cache
// worker for its next frame (frames [Rk']/[Rn]).
func (s *Segment) AckFrame() error {
	return s.rsem.Post()
}

// Drain completes the handshake without forwarding payloads to the client,
// used after a client disconnect mid-transfer (spec.md §4.3 "Drain").
// Skipping this would strand the cache worker waiting forever on rsem.
func (s *Segment) Drain() error {
	for {
		if err := s.AckFrame(); err != nil {
			return err
		}
		frame, err := s.ConsumeFrame()
		if err != nil {
			return err
		}
		if frame.EOF {
			return s.AckFrame()
		}
	}
}
