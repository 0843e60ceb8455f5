//go:build linux

package shmipc

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// futexSem is a process-shared counting semaphore backed by a single int32
// futex word living inside a mapped shared-memory segment. It implements
// the sem_init/sem_wait/sem_post trio from spec.md's original C design
// (sem_t rsem/wsem, pshared=1) without cgo: the word's address is shared
// between processes because it lives inside the mmap'd region, and Linux's
// futex syscall is explicitly designed to synchronize across processes
// sharing that memory.
type futexSem struct {
	word *int32
}

// key identifies the segment and word for the non-Linux fallback's cond
// registry; the real futex here needs no such bookkeeping; ignored.
func newFutexSem(key string, word *int32, initial int32) *futexSem {
	atomic.StoreInt32(word, initial)
	return &futexSem{word: word}
}

func attachFutexSem(key string, word *int32) *futexSem {
	return &futexSem{word: word}
}

// Post increments the count and wakes one waiter, if any.
func (s *futexSem) Post() error {
	atomic.AddInt32(s.word, 1)
	_, err := unix.Futex(s.word, unix.FUTEX_WAKE, 1, nil, nil, 0)
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Wait blocks until the count is positive, then atomically decrements it.
func (s *futexSem) Wait() error {
	for {
		v := atomic.LoadInt32(s.word)
		if v > 0 {
			if atomic.CompareAndSwapInt32(s.word, v, v-1) {
				return nil
			}
			continue
		}
		_, err := unix.Futex(s.word, unix.FUTEX_WAIT, 0, nil, nil, 0)
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return err
		}
	}
}

// release is a no-op here: the futex word's address in shared memory is
// the synchronization point, so there is no per-process side table to
// clean up as there is in the non-Linux fallback.
func (s *futexSem) release() {}
