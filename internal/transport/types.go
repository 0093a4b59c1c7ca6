package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	serialpkg "github.com/meshenger/gateway/internal/transport/serial"
)

// Dial opens a connection to a radio given an address of the form
// "tcp://host:port" or "serial:///dev/ttyUSB0", returning the raw
// byte stream a StreamConn can be built on top of.
func Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse radio address %q: %w", address, err)
	}

	switch u.Scheme {
	case "tcp":
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial tcp %s: %w", u.Host, err)
		}
		return conn, nil
	case "serial":
		port := u.Path
		if port == "" {
			port = u.Opaque
		}
		conn, err := serialpkg.Connect(port)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", port, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported radio address scheme %q (want tcp:// or serial://)", u.Scheme)
	}
}

// DialTimeout is Dial with a bounded connect deadline, for startup and
// reconnect attempts.
func DialTimeout(address string, timeout time.Duration) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Dial(ctx, address)
}
