// Package relay turns a datagram socket into an ad-hoc broadcast group.
//
// Every datagram longer than one byte makes its sender a member, is
// annotated with the sender's address, port and size, echoed to the
// console and sent to every member, the sender included.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ryandielhenn/zephyrrelay/internal/telemetry"
	"github.com/ryandielhenn/zephyrrelay/pkg/endpoint"
	"github.com/ryandielhenn/zephyrrelay/pkg/membership"
)

// DefaultMaxPacketSize is the receive buffer: 1024 bytes less room for the
// longest IPv6 address text and the annotation.
const DefaultMaxPacketSize = 1024 - 46 - 32

// ErrReceive wraps a failed read from the socket. The relay does not retry.
var ErrReceive = errors.New("relay: receive failed")

// Server relays datagrams read from Conn to every known member.
//
// Serve is single-threaded: receive, membership update and fan-out for one
// datagram complete before the next one is read.
type Server struct {
	// Conn is the bound socket used for both receiving and fan-out sends.
	Conn net.PacketConn

	// Members holds every sender seen so far.
	Members membership.Set

	// Out receives one annotated line per relayed datagram.
	Out io.Writer

	Logger *zap.Logger

	// MaxPacketSize is the receive buffer size; longer datagrams are truncated.
	MaxPacketSize int

	sendLogLimit *rate.Limiter

	mu        sync.Mutex
	closed    bool
	serveDone chan struct{} // closed when Serve returns
	closeCh   chan struct{}
}

type Option func(*Server)

func WithMembers(m membership.Set) Option { return func(s *Server) { s.Members = m } }
func WithOutput(w io.Writer) Option        { return func(s *Server) { s.Out = w } }
func WithLogger(l *zap.Logger) Option      { return func(s *Server) { s.Logger = l } }

func WithMaxPacketSize(n int) Option {
	return func(s *Server) { s.MaxPacketSize = n }
}

// NewServer wraps an already bound conn. Without options the server starts
// with an empty unbounded membership store and writes to os.Stdout.
func NewServer(conn net.PacketConn, opts ...Option) *Server {
	s := &Server{
		Conn:          conn,
		Out:           os.Stdout,
		MaxPacketSize: DefaultMaxPacketSize,
		// at most one send-failure warning per second, bursts of 5
		sendLogLimit: rate.NewLimiter(rate.Every(time.Second), 5),
		closeCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.Members == nil {
		s.Members = membership.NewStore()
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Out == nil {
		s.Out = io.Discard
	}
	if b, ok := s.Members.(*membership.Bounded); ok && b.OnEvict == nil {
		log := s.Logger
		b.OnEvict = func(m membership.Member) {
			telemetry.Evictions.Inc()
			log.Info("member evicted", zap.Stringer("endpoint", m.Endpoint))
		}
	}
	return s
}

// Listen binds a UDP socket on addr and returns a server for it. An
// unspecified IPv6 host such as "[::]:3490" yields a dual-stack socket.
func Listen(addr string, opts ...Option) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(conn, opts...), nil
}

// Close stops the server, closes the underlying socket and waits for a
// running Serve to return.
//
// Close is safe to call multiple times.
func (s *Server) Close() error {
	err := s.shutdown()
	s.mu.Lock()
	done := s.serveDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}

// shutdown marks the server closed and closes the socket once, without
// waiting for Serve.
func (s *Server) shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// Serve runs the relay loop until ctx is done or Close is called, both of
// which return nil. Any other receive error is returned wrapped in
// ErrReceive. Serve may run only once per Server.
func (s *Server) Serve(ctx context.Context) error {
	if s.Conn == nil {
		return errors.New("relay: server Conn is nil")
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil
	case s.serveDone != nil:
		s.mu.Unlock()
		return errors.New("relay: already serving")
	}
	done := make(chan struct{})
	s.serveDone = done
	s.mu.Unlock()
	defer close(done)

	stop := context.AfterFunc(ctx, func() { _ = s.shutdown() })
	defer stop()

	size := s.MaxPacketSize
	if size <= 0 {
		size = DefaultMaxPacketSize
	}
	buf := make([]byte, size)

	s.Logger.Info("relay serving",
		zap.Stringer("local", s.Conn.LocalAddr()),
		zap.Int("max_packet", size))

	for {
		n, from, err := s.Conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return nil
			default:
			}
			return fmt.Errorf("%w: %w", ErrReceive, err)
		}
		s.handlePacket(buf[:n], from)
	}
}

// handlePacket classifies one datagram and fans it out.
func (s *Server) handlePacket(pkt []byte, from net.Addr) {
	n := len(pkt)
	if n <= 1 {
		telemetry.DatagramsTotal.WithLabelValues("short").Inc()
		return
	}

	ep, err := endpoint.FromAddr(from)
	if err != nil {
		telemetry.DatagramsTotal.WithLabelValues("bad_source").Inc()
		s.Logger.Warn("dropping datagram", zap.String("from", fmt.Sprint(from)), zap.Error(err))
		return
	}
	telemetry.ReceivedBytes.Add(float64(n))

	text := StripTrailing(pkt)
	s.Logger.Debug("received",
		zap.Int("bytes", n),
		zap.Stringer("from", ep),
		zap.ByteString("text", text))

	if _, joined := s.Members.Observe(ep); joined {
		telemetry.Joins.Inc()
		s.Logger.Info("member joined", zap.Stringer("endpoint", ep), zap.Stringer("family", ep.Family()))
	}
	telemetry.Members.Set(float64(s.Members.Len()))

	msg := Annotate(ep.Host(), ep.Port(), n, text)
	if _, err := s.Out.Write(msg); err != nil {
		s.Logger.Warn("console write failed", zap.Error(err))
	}
	s.fanout(msg)
	telemetry.DatagramsTotal.WithLabelValues("relayed").Inc()
}

// fanout sends msg to every member present when it starts. A failed send
// never stops delivery to the remaining members.
func (s *Server) fanout(msg []byte) {
	start := time.Now()
	s.Members.ForEach(func(m *membership.Member) bool {
		s.Logger.Debug("send", zap.Stringer("to", m.Endpoint))
		if _, err := s.Conn.WriteTo(msg, m.Endpoint.UDPAddr()); err != nil {
			telemetry.FanoutSends.WithLabelValues("error").Inc()
			if s.sendLogLimit == nil || s.sendLogLimit.Allow() {
				s.Logger.Warn("send failed", zap.Stringer("to", m.Endpoint), zap.Error(err))
			}
			return true
		}
		telemetry.FanoutSends.WithLabelValues("ok").Inc()
		return true
	})
	telemetry.FanoutDuration.Observe(time.Since(start).Seconds())
}
