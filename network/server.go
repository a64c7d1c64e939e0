package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Server accepts inbound TCP sessions and authenticates them into Connections.
type Server struct {
	listener net.Listener
	options  HandshakeOptions
	limiter  *ipLimiter

	incoming chan *Connection
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and handshake accept loop.
func Listen(address string, options HandshakeOptions) (*Server, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		options:  opts,
		limiter:  newIPLimiter(opts.ConnectionRateLimitPerIP, opts.ConnectionRateLimitWindow),
		incoming: make(chan *Connection, 16),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Incoming returns accepted and authenticated connections.
func (s *Server) Incoming() <-chan *Connection {
	return s.incoming
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and closes all server channels.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		remote := conn.RemoteAddr().String()
		if !s.limiter.Allow(remote, time.Now()) {
			if s.options.OnInboundConnectionRateLimit != nil {
				s.options.OnInboundConnectionRateLimit(remote)
			}
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleInboundConn(conn)
	}
}

func (s *Server) handleInboundConn(conn net.Conn) {
	defer s.wg.Done()

	transport := NewTCPTransport(conn, s.options.MaxFrameSize)
	connection, err := accept(transport, s.options, nil)
	if err != nil {
		_ = conn.Close()
		s.reportError(err)
		return
	}

	select {
	case s.incoming <- connection:
	case <-s.closed:
		_ = connection.Close()
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}
