package metrics_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nabbar/gtfileserver/internal/metrics"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	addr := l.Addr().String()
	Expect(l.Close()).To(Succeed())
	return addr
}

var _ = Describe("Registry", func() {
	It("registers metrics under the given subsystem without panicking", func() {
		Expect(func() { metrics.New("proxy") }).ToNot(Panic())
	})

	It("records gauge, counter, and histogram observations", func() {
		r := metrics.New("cache")
		r.SegmentsIdle.Set(3)
		r.SegmentsTotal.Set(4)
		r.FramesTransferred.Inc()
		r.BytesTransferred.Add(128)
		r.RequestsFailed.WithLabelValues("not_found").Inc()
		r.ObserveWait(time.Now().Add(-10 * time.Millisecond))
	})
})

var _ = Describe("Server", func() {
	It("serves /metrics over HTTP until context cancellation", func() {
		r := metrics.New("proxy")
		r.SegmentsIdle.Set(2)

		addr := freeAddr()
		srv := metrics.NewServer(addr, r)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Serve(ctx) }()

		var body string
		Eventually(func() error {
			resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			body = string(b)
			return nil
		}, 2*time.Second).Should(Succeed())

		Expect(body).To(ContainSubstring("gtfileserver_proxy_segments_idle"))
		Expect(strings.Contains(body, "2")).To(BeTrue())

		cancel()
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})
})
