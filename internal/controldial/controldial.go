// Package controldial connects a producer to its controller. The producer
// always dials out; the controller never needs to reach into the producer's
// network. A Connector hands out one connection at a time, waiting out a
// redial interval between attempts.
package controldial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Preamble is written by the producer immediately after connecting, before
// any frame, so a controller can reject strays early.
//
// The choice of bytes is arbitrary.
var Preamble = []byte{2, 1, 1, 9, 1, 1, 2, 0}

const redialInterval = 2 * time.Second

type dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connector dials the controller URL. Safe for use from a single goroutine.
type Connector struct {
	addr        string
	d           dialer
	onDialError func(error)
	lastDial    time.Time
}

// New creates a Connector for a controller URL. The URL must use the http or
// https scheme (https dials through TLS) and carry no path or query.
func New(addr string, onDialError func(error)) (*Connector, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse controller url: %w", err)
	}
	if u.Path != "" {
		return nil, fmt.Errorf("unsupported path: %s", u.Path)
	}
	if u.RawQuery != "" {
		return nil, fmt.Errorf("unsupported query: %s", u.RawQuery)
	}
	var d dialer
	switch u.Scheme {
	case "http":
		d = &net.Dialer{}
	case "https":
		d = &tls.Dialer{}
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if onDialError == nil {
		onDialError = func(error) {}
	}
	return &Connector{addr: u.Host, d: d, onDialError: onDialError}, nil
}

// Addr returns the host:port the connector dials.
func (c *Connector) Addr() string {
	return c.addr
}

// Dial establishes the next connection, retrying until it succeeds or ctx is
// cancelled. Consecutive attempts are spaced by the redial interval; dial
// failures go to the error logger and are retried.
func (c *Connector) Dial(ctx context.Context) (net.Conn, error) {
	for {
		if since := time.Since(c.lastDial); since < redialInterval {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(redialInterval - since):
			}
		}
		c.lastDial = time.Now()
		conn, err := c.d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.onDialError(fmt.Errorf("failed to dial %s: %w", c.addr, err))
			continue
		}
		if err := writePreamble(conn); err != nil {
			_ = conn.Close()
			c.onDialError(err)
			continue
		}
		return conn, nil
	}
}

func writePreamble(conn net.Conn) error {
	toWrite := Preamble
	for len(toWrite) > 0 {
		n, err := conn.Write(toWrite)
		if err != nil {
			return fmt.Errorf("failed to write preamble: %w", err)
		}
		toWrite = toWrite[n:]
	}
	return nil
}
