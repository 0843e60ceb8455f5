package reqchan_test

import (
	"strings"

	"github.com/nabbar/gtfileserver/internal/reqchan"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Record encoding", func() {
	It("round-trips a typical record", func() {
		rec := reqchan.Record{Path: "/srv/www/index.html", SegmentName: "/shm_1234_0", Segsize: 4096}

		buf, err := rec.Encode()
		Expect(err).ToNot(HaveOccurred())
		Expect(buf).To(HaveLen(reqchan.RecordSize))

		got, err := reqchan.Decode(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(rec))
	})

	It("round-trips an empty path and name", func() {
		rec := reqchan.Record{}
		buf, err := rec.Encode()
		Expect(err).ToNot(HaveOccurred())

		got, err := reqchan.Decode(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(rec))
	})

	It("rejects a path that does not leave room for the NUL terminator", func() {
		rec := reqchan.Record{Path: strings.Repeat("a", reqchan.PathSize)}
		_, err := rec.Encode()
		Expect(err).To(HaveOccurred())
	})

	It("rejects a segment name that does not leave room for the NUL terminator", func() {
		rec := reqchan.Record{SegmentName: strings.Repeat("a", reqchan.SegmentNameSize)}
		_, err := rec.Encode()
		Expect(err).To(HaveOccurred())
	})

	It("rejects a decode of the wrong size", func() {
		_, err := reqchan.Decode(make([]byte, reqchan.RecordSize-1))
		Expect(err).To(HaveOccurred())
	})

	It("preserves a maximal segsize value", func() {
		rec := reqchan.Record{Path: "/f", SegmentName: "/shm_0_0", Segsize: ^uint64(0)}
		buf, err := rec.Encode()
		Expect(err).ToNot(HaveOccurred())
		got, err := reqchan.Decode(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Segsize).To(Equal(rec.Segsize))
	})
})
