package sdr

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// TCPSource reads a raw IQ stream from a TCP server, e.g. a front end bridge
// forwarding the USB pipe over the network.
type TCPSource struct {
	Addr    string
	Timeout time.Duration
}

func (s *TCPSource) String() string { return "tcp://" + s.Addr }

func (s *TCPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.Addr, err)
	}
	return conn, nil
}
