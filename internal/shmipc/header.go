package shmipc

import "unsafe"

const (
	// NameSize is the capacity of the segment's OS-visible name field.
	NameSize = 100
	// FilePathSize is reserved wire-compatibility padding. Unused by the
	// transfer protocol itself (spec.md §9, Open Question: "file_path ...
	// keep it or drop it per implementer preference" — kept, as reserved
	// space, so the mapping stays interoperable with a C peer using the
	// original shm_data_t layout).
	FilePathSize = 1024
)

// wireHeader is the fixed-layout record living at offset 0 of every mapped
// segment. Both the proxy and the cache daemon map the same layout; no
// field may change size or order without breaking interop between builds.
//
// The two semaphore words (SemW, SemR) are operated on directly by
// futexSem — they are plain futex-compatible 32-bit words, not Go-level
// sync primitives, because they must be waited on by a second OS process
// mapping the same page.
type wireHeader struct {
	Name         [NameSize]byte
	FilePath     [FilePathSize]byte
	SemW         int32  // wsem: producer(cache)-signals-consumer(proxy); initial 0
	SemR         int32  // rsem: consumer(proxy)-signals-producer(cache); initial 1
	Segsize      uint32 // payload buffer capacity in bytes
	Status       uint32 // Status
	FileSize     uint64 // total bytes of the file being transferred
	BytesWritten uint32 // valid payload bytes in the current frame; 0 == EOF
	_            uint32 // padding to keep the struct 8-byte aligned
}

const headerSize = int(unsafe.Sizeof(wireHeader{}))

func castHeader(mem []byte) *wireHeader {
	if len(mem) < headerSize {
		panic("shmipc: mapping too small for header")
	}
	return (*wireHeader)(unsafe.Pointer(&mem[0]))
}

// Header is the immutable snapshot of status+file_size handed to a proxy
// worker after it consumes the first frame of a transfer.
type Header struct {
	Status   Status
	FileSize int64
}

// Frame is one producer-to-consumer publication of payload bytes.
type Frame struct {
	Data []byte // aliases the segment's payload buffer; valid until the next Wait
	EOF  bool
}
