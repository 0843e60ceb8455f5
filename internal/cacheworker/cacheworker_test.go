//go:build linux || darwin

package cacheworker_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nabbar/gtfileserver/internal/cacheworker"
	"github.com/nabbar/gtfileserver/internal/logging"
	"github.com/nabbar/gtfileserver/internal/reqchan"
	"github.com/nabbar/gtfileserver/internal/shmipc"
	"github.com/nabbar/gtfileserver/internal/simplecache"

	loglvl "github.com/nabbar/golib/logger/level"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeListener stands in for a reqchan.Listener: a buffered channel a test
// feeds directly, bypassing any real socket.
type fakeListener struct {
	recs chan reqchan.Record
}

func newFakeListener() *fakeListener {
	return &fakeListener{recs: make(chan reqchan.Record, 8)}
}

func (f *fakeListener) push(rec reqchan.Record) { f.recs <- rec }

func (f *fakeListener) Receive(ctx context.Context) (reqchan.Record, error) {
	select {
	case rec := <-f.recs:
		return rec, nil
	case <-ctx.Done():
		return reqchan.Record{}, ctx.Err()
	}
}

// consumeAll plays the proxy's consumer role over seg until EOF, returning
// the concatenated payload alongside the header that opened the transfer.
func consumeAll(seg *shmipc.Segment) (shmipc.Header, []byte, error) {
	hdr, err := seg.ConsumeHeader()
	if err != nil {
		return hdr, nil, err
	}
	if err := seg.AckHeader(); err != nil {
		return hdr, nil, err
	}
	if hdr.Status != shmipc.StatusOK {
		return hdr, nil, nil
	}

	var out []byte
	for {
		frame, err := seg.ConsumeFrame()
		if err != nil {
			return hdr, out, err
		}
		if frame.EOF {
			return hdr, out, seg.AckFrame()
		}
		out = append(out, frame.Data...)
		if err := seg.AckFrame(); err != nil {
			return hdr, out, err
		}
	}
}

var _ = Describe("Worker", func() {
	var (
		dir   string
		cache *simplecache.Cache
		pool  *shmipc.Pool
		lst   *fakeListener
		w     *cacheworker.Worker
		ctx   context.Context
		cncl  context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "cacheworker")
		Expect(err).ToNot(HaveOccurred())

		cache, err = simplecache.Init(dir)
		Expect(err).ToNot(HaveOccurred())

		pool, err = shmipc.CreatePool(globalCtx, 2, 8)
		Expect(err).ToNot(HaveOccurred())

		lst = newFakeListener()
		log := logging.New(globalCtx, loglvl.ErrorLevel)
		w = cacheworker.New(lst, cache, log, nil, 2)

		ctx, cncl = context.WithCancel(globalCtx)
		Expect(w.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		cncl()
		_ = w.Stop(globalCtx)
		_ = pool.DestroyPool()
		_ = os.RemoveAll(dir)
	})

	It("streams an existing file's contents to the proxy side", func() {
		path := filepath.Join(dir, "hello.txt")
		Expect(os.WriteFile(path, []byte("hello cache worker"), 0o644)).To(Succeed())

		seg, err := pool.Acquire(globalCtx)
		Expect(err).ToNot(HaveOccurred())

		lst.push(reqchan.Record{Path: "hello.txt", SegmentName: seg.Name(), Segsize: uint64(seg.Segsize())})

		hdr, body, err := consumeAll(seg)
		Expect(err).ToNot(HaveOccurred())
		Expect(hdr.Status).To(Equal(shmipc.StatusOK))
		Expect(hdr.FileSize).To(Equal(int64(len("hello cache worker"))))
		Expect(string(body)).To(Equal("hello cache worker"))

		pool.Release(seg)
		Eventually(pool.Idle).Should(Equal(2))
	})

	It("reports NOT_FOUND for an absent path without posting any frame", func() {
		seg, err := pool.Acquire(globalCtx)
		Expect(err).ToNot(HaveOccurred())

		lst.push(reqchan.Record{Path: "missing.txt", SegmentName: seg.Name(), Segsize: uint64(seg.Segsize())})

		hdr, body, err := consumeAll(seg)
		Expect(err).ToNot(HaveOccurred())
		Expect(hdr.Status).To(Equal(shmipc.StatusNotFound))
		Expect(body).To(BeEmpty())

		pool.Release(seg)
	})

	It("handles a zero-byte file as an immediate EOF", func() {
		path := filepath.Join(dir, "empty.txt")
		Expect(os.WriteFile(path, nil, 0o644)).To(Succeed())

		seg, err := pool.Acquire(globalCtx)
		Expect(err).ToNot(HaveOccurred())

		lst.push(reqchan.Record{Path: "empty.txt", SegmentName: seg.Name(), Segsize: uint64(seg.Segsize())})

		hdr, body, err := consumeAll(seg)
		Expect(err).ToNot(HaveOccurred())
		Expect(hdr.Status).To(Equal(shmipc.StatusOK))
		Expect(hdr.FileSize).To(Equal(int64(0)))
		Expect(body).To(BeEmpty())

		pool.Release(seg)
	})

	It("serves two concurrent requests on distinct segments", func() {
		Expect(os.WriteFile(filepath.Join(dir, "a.txt"), []byte("AAAA"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "b.txt"), []byte("BBBB"), 0o644)).To(Succeed())

		segA, err := pool.Acquire(globalCtx)
		Expect(err).ToNot(HaveOccurred())
		segB, err := pool.Acquire(globalCtx)
		Expect(err).ToNot(HaveOccurred())

		lst.push(reqchan.Record{Path: "a.txt", SegmentName: segA.Name(), Segsize: uint64(segA.Segsize())})
		lst.push(reqchan.Record{Path: "b.txt", SegmentName: segB.Name(), Segsize: uint64(segB.Segsize())})

		var wg sync.WaitGroup
		results := make(map[string]string, 2)
		var mu sync.Mutex
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, body, err := consumeAll(segA)
			Expect(err).ToNot(HaveOccurred())
			mu.Lock()
			results["a"] = string(body)
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			_, body, err := consumeAll(segB)
			Expect(err).ToNot(HaveOccurred())
			mu.Lock()
			results["b"] = string(body)
			mu.Unlock()
		}()

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		Eventually(done, 2*time.Second).Should(BeClosed())

		Expect(results["a"]).To(Equal("AAAA"))
		Expect(results["b"]).To(Equal("BBBB"))

		pool.Release(segA)
		pool.Release(segB)
	})
})
