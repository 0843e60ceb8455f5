package reqchan

import (
	"context"
	"fmt"
	"os"

	libprm "github.com/nabbar/golib/file/perm"
	libptc "github.com/nabbar/golib/network/protocol"
	libsck "github.com/nabbar/golib/socket"
	sckclt "github.com/nabbar/golib/socket/client/unixgram"
	sckcfg "github.com/nabbar/golib/socket/config"
	scksrv "github.com/nabbar/golib/socket/server/unixgram"
)

// Listener is the cache daemon's side of the request channel: it owns the
// named datagram socket and hands off each decoded Record to whoever calls
// Receive, bounded to depth in-flight undelivered records.
type Listener struct {
	path string
	srv  libsck.Server
	recs chan Record
	errs chan error
}

// NewListener creates (but does not yet start) a request channel listener
// at sockPath, bounded to depth buffered, undelivered records.
func NewListener(sockPath string, depth int) (*Listener, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}

	_ = os.Remove(sockPath) // stale socket from a prior, unclean shutdown

	l := &Listener{
		path: sockPath,
		recs: make(chan Record, depth),
		errs: make(chan error, 1),
	}

	cfg := sckcfg.Server{
		Network:   libptc.NetworkUnixGram,
		Address:   sockPath,
		PermFile:  libprm.Perm(0660),
		GroupPerm: -1,
	}

	srv, err := scksrv.New(nil, l.handle, cfg)
	if err != nil {
		return nil, fmt.Errorf("reqchan: listen %s: %w", sockPath, err)
	}
	srv.RegisterFuncError(func(e ...error) {
		for _, err := range e {
			if err != nil {
				select {
				case l.errs <- err:
				default:
				}
			}
		}
	})
	l.srv = srv
	return l, nil
}

func (l *Listener) handle(ctx libsck.Context) {
	defer ctx.Close()

	buf := make([]byte, RecordSize)
	n, err := ctx.Read(buf)
	if err != nil || n != RecordSize {
		return
	}

	rec, err := Decode(buf)
	if err != nil {
		return
	}
	l.recs <- rec
}

// Serve blocks accepting datagrams until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	return l.srv.Listen(ctx)
}

// Shutdown stops accepting new datagrams and removes the socket file.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.srv.Shutdown(ctx)
	_ = os.Remove(l.path)
	return err
}

// Receive returns the next request record, or an error if ctx is done
// first.
func (l *Listener) Receive(ctx context.Context) (Record, error) {
	select {
	case rec := <-l.recs:
		return rec, nil
	case err := <-l.errs:
		return Record{}, fmt.Errorf("reqchan: %w", err)
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Sender is the proxy's side of the request channel: a connected client
// posting fixed-size records to the cache daemon's listener.
type Sender struct {
	client libsck.Client
}

// NewSender connects to the listener bound at sockPath.
func NewSender(ctx context.Context, sockPath string) (*Sender, error) {
	client := sckclt.New(sockPath)
	if client == nil {
		return nil, fmt.Errorf("reqchan: create client for %s", sockPath)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("reqchan: connect %s: %w", sockPath, err)
	}
	return &Sender{client: client}, nil
}

// Send posts rec. It returns once the record has been handed to the
// kernel's datagram buffer; the channel's depth bound comes from that
// buffer filling up and backpressuring Write.
func (s *Sender) Send(rec Record) error {
	buf, err := rec.Encode()
	if err != nil {
		return err
	}
	n, err := s.client.Write(buf)
	if err != nil {
		return fmt.Errorf("reqchan: send: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("reqchan: short send %d/%d bytes", n, len(buf))
	}
	return nil
}

// Close disconnects the sender.
func (s *Sender) Close() error {
	return s.client.Close()
}
