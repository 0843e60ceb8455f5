package logging_test

import (
	"context"

	"github.com/nabbar/gtfileserver/internal/logging"

	loglvl "github.com/nabbar/golib/logger/level"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseLevel", func() {
	It("parses a known level name", func() {
		Expect(logging.ParseLevel("debug")).To(Equal(loglvl.DebugLevel))
	})

	It("falls back to InfoLevel for garbage input", func() {
		Expect(logging.ParseLevel("not-a-level")).To(Equal(loglvl.InfoLevel))
	})
})

var _ = Describe("New and Component", func() {
	It("builds a logger at the requested level", func() {
		l := logging.New(context.Background(), loglvl.WarnLevel)
		Expect(l).ToNot(BeNil())
		Expect(l.GetLevel()).To(Equal(loglvl.WarnLevel))
	})

	It("returns a non-nil component logger", func() {
		ctx := context.Background()
		l := logging.New(ctx, loglvl.InfoLevel)
		child := logging.Component(ctx, l, "proxyworker")
		Expect(child).ToNot(BeNil())
	})
})
