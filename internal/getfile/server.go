package getfile

import (
	"bufio"
	"context"
	"fmt"

	libsck "github.com/nabbar/golib/socket"
	scksrv "github.com/nabbar/golib/socket/server/tcp"
)

// Server is the proxy's GetFile front end: a TCP listener that parses one
// request line per connection and dispatches it to a Handler.
type Server struct {
	srv  libsck.Server
	addr string
}

// NewServer creates a GetFile server bound to addr (not yet listening).
func NewServer(addr string, handler Handler) *Server {
	connHandler := func(r libsck.Reader, w libsck.Writer) {
		defer func() {
			_ = r.Close()
			_ = w.Close()
		}()

		path, err := readRequestPath(bufio.NewReader(r))
		if err != nil {
			return
		}

		handler(&connContext{w: w}, path)
	}

	srv := scksrv.New(nil, connHandler)
	return &Server{srv: srv, addr: addr}
}

// RegisterFuncError forwards to the underlying socket server's error
// callback.
func (s *Server) RegisterFuncError(f func(...error)) {
	s.srv.RegisterFuncError(f)
}

// Serve blocks accepting connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.srv.RegisterServer(s.addr); err != nil {
		return fmt.Errorf("getfile: register %s: %w", s.addr, err)
	}
	return s.srv.Listen(ctx)
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
