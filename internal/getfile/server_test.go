//go:build linux || darwin

package getfile

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func freeTCPAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	addr := l.Addr().String()
	Expect(l.Close()).To(Succeed())
	return addr
}

var _ = Describe("Server", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		addr     string
		srv      *Server
		serveErr chan error
	)

	start := func(handler Handler) {
		addr = freeTCPAddr()
		srv = NewServer(addr, handler)
		serveErr = make(chan error, 1)
		go func() { serveErr <- srv.Serve(ctx) }()

		Eventually(func() error {
			c, err := net.Dial("tcp", addr)
			if err == nil {
				_ = c.Close()
			}
			return err
		}, time.Second).Should(Succeed())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(globalCtx)
	})

	AfterEach(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
		cancel()
	})

	It("serves an OK response with the full body", func() {
		start(func(ctx Context, path string) {
			Expect(path).To(Equal("/hello.txt"))
			body := []byte("hello world")
			_, _ = ctx.SendHeader(StatusOK, int64(len(body)))
			_, _ = ctx.Send(body)
		})

		client, err := Dial(ctx, addr)
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		status, body, err := client.Fetch("/hello.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(StatusOK))
		Expect(string(body)).To(Equal("hello world"))
	})

	It("serves a FILE_NOT_FOUND response", func() {
		start(func(ctx Context, path string) {
			_, _ = ctx.SendHeader(StatusFileNotFound, 0)
		})

		client, err := Dial(ctx, addr)
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		status, body, err := client.Fetch("/missing.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(StatusFileNotFound))
		Expect(body).To(BeEmpty())
	})

	It("serves a body split across multiple Send calls", func() {
		start(func(ctx Context, path string) {
			_, _ = ctx.SendHeader(StatusOK, 9)
			_, _ = ctx.Send([]byte("abcd"))
			_, _ = ctx.Send([]byte("efgh"))
			_, _ = ctx.Send([]byte("i"))
		})

		client, err := Dial(ctx, addr)
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		_, body, err := client.Fetch("/chunked.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(Equal("abcdefghi"))
	})

	It("serves a zero-byte OK body", func() {
		start(func(ctx Context, path string) {
			_, _ = ctx.SendHeader(StatusOK, 0)
		})

		client, err := Dial(ctx, addr)
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		status, body, err := client.Fetch("/empty.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(StatusOK))
		Expect(body).To(BeEmpty())
	})

	It("serves independent requests over separate connections", func() {
		start(func(ctx Context, path string) {
			_, _ = ctx.SendHeader(StatusOK, int64(len(path)))
			_, _ = ctx.Send([]byte(path))
		})

		for _, p := range []string{"/a", "/bb", "/ccc"} {
			client, err := Dial(ctx, addr)
			Expect(err).ToNot(HaveOccurred())
			_, body, err := client.Fetch(p)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(body)).To(Equal(p))
			Expect(client.Close()).To(Succeed())
		}
	})
})
