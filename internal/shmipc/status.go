package shmipc

// Status is the response code published in a segment header, modeled on the
// HTTP-shaped CodeError convention used throughout github.com/nabbar/golib/errors:
// a small numeric code with a handful of well-known values and an open range
// for anything else.
type Status uint16

const (
	// StatusNone marks a header that has not been published yet.
	StatusNone Status = 0
	// StatusOK means the file was found and file_size/frames are valid.
	StatusOK Status = 200
	// StatusNotFound means the cache's simplecache lookup failed.
	StatusNotFound Status = 404
	// StatusError is any other cache-side failure (open/read/mmap/etc).
	StatusError Status = 500
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	default:
		return "ERROR"
	}
}

// IsOK reports whether the status represents a successful lookup.
func (s Status) IsOK() bool {
	return s == StatusOK
}
