// Package reqchan implements the bounded request channel that carries
// file-transfer requests from proxy workers to cache workers: a fixed-size
// record naming the requested path and the shared-memory segment the cache
// worker should reply through.
package reqchan

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// PathSize is the maximum NUL-terminated path length a request record
	// can carry.
	PathSize = 6112
	// SegmentNameSize mirrors shmipc's segment name field width, so a
	// record can always address any live segment.
	SegmentNameSize = 100

	// RecordSize is the exact wire size of a Record: path + segment name
	// + an 8-byte segsize, with no padding. The channel's transport must
	// treat this as a fixed message size.
	RecordSize = PathSize + SegmentNameSize + 8

	// DefaultDepth is the channel's default bounded capacity.
	DefaultDepth = 10
)

// Record is one proxy-to-cache request: the file path to serve and the
// segment the cache worker should publish its reply through.
type Record struct {
	Path        string
	SegmentName string
	Segsize     uint64
}

// Encode renders r as a fixed RecordSize-byte datagram payload.
func (r Record) Encode() ([]byte, error) {
	if len(r.Path) >= PathSize {
		return nil, fmt.Errorf("reqchan: path length %d exceeds %d-byte field", len(r.Path), PathSize-1)
	}
	if len(r.SegmentName) >= SegmentNameSize {
		return nil, fmt.Errorf("reqchan: segment name length %d exceeds %d-byte field", len(r.SegmentName), SegmentNameSize-1)
	}

	buf := make([]byte, RecordSize)
	copy(buf[0:PathSize], r.Path)
	copy(buf[PathSize:PathSize+SegmentNameSize], r.SegmentName)
	binary.LittleEndian.PutUint64(buf[PathSize+SegmentNameSize:], r.Segsize)
	return buf, nil
}

// Decode parses a RecordSize-byte datagram payload into a Record.
func Decode(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("reqchan: record size %d, want %d", len(buf), RecordSize)
	}

	path := cstring(buf[0:PathSize])
	name := cstring(buf[PathSize : PathSize+SegmentNameSize])
	segsize := binary.LittleEndian.Uint64(buf[PathSize+SegmentNameSize:])

	return Record{Path: path, SegmentName: name, Segsize: segsize}, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
