package getfile

import (
	"bufio"
	"context"
	"fmt"
	"io"

	libsck "github.com/nabbar/golib/socket"
	sckclt "github.com/nabbar/golib/socket/client/tcp"
)

// Client is a minimal GetFile client, used to drive Server end to end in
// tests and by any caller that wants to fetch a file without a real
// GetFile library at hand.
type Client struct {
	conn libsck.Client
	r    *bufio.Reader
}

// Dial connects to a GetFile server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	c, err := sckclt.New(addr)
	if err != nil {
		return nil, fmt.Errorf("getfile: dial %s: %w", addr, err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("getfile: connect %s: %w", addr, err)
	}
	return &Client{conn: c, r: bufio.NewReader(c)}, nil
}

// Fetch requests path and returns the status and, for StatusOK, the full
// response body.
func (c *Client) Fetch(path string) (Status, []byte, error) {
	if _, err := io.WriteString(c.conn, encodeRequest(path)); err != nil {
		return StatusError, nil, fmt.Errorf("getfile: send request: %w", err)
	}

	status, size, err := parseHeader(c.r)
	if err != nil {
		return StatusError, nil, err
	}
	if status != StatusOK {
		return status, nil, nil
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return StatusError, nil, fmt.Errorf("getfile: read body: %w", err)
	}
	return StatusOK, body, nil
}

// Close disconnects the client.
func (c *Client) Close() error {
	return c.conn.Close()
}
