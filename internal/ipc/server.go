package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/re-cinq/devtrackd/internal/errs"
)

// Handler processes one client-originated Envelope.
type Handler func(conn *Conn, env Envelope)

// maxConcurrentHandlers bounds the per-message worker pool (spec §4.5).
const maxConcurrentHandlers = 16

// Server accepts one or more local peers over a Unix domain socket and
// dispatches their messages to registered handlers. Grounded on the beads
// rpc.Server shape (socketPath ownership, RWMutex client table, graceful
// Stop), narrowed to newline-delimited JSON framing.
type Server struct {
	socketPath string
	logger     *log.Logger

	mu       sync.RWMutex
	handlers map[MessageType]Handler
	conns    map[*Conn]struct{}

	listener net.Listener
	sem      *semaphore.Weighted

	idSeq  int64
	idMu   sync.Mutex
}

// Conn is one accepted client connection.
type Conn struct {
	netConn net.Conn
	writeMu sync.Mutex
	enc     *json.Encoder
}

// NewServer constructs a Server bound to socketPath (not yet listening).
func NewServer(socketPath string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		handlers:   make(map[MessageType]Handler),
		conns:      make(map[*Conn]struct{}),
		sem:        semaphore.NewWeighted(maxConcurrentHandlers),
	}
}

// RegisterHandler registers fn for messages of the given type. Unknown
// types are logged and discarded at dispatch time (spec §4.5).
func (s *Server) RegisterHandler(typ MessageType, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = fn
}

// Start binds the Unix domain socket and begins accepting connections. It
// returns once listening; acceptLoop runs on its own goroutine until ctx is
// done.
func (s *Server) Start(ctx context.Context) error {
	_ = os.Remove(s.socketPath) // stale socket from a prior unclean exit
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrBindFailed, err)
	}
	s.listener = ln

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Printf("ipc: accept error: %v", err)
				return
			}
		}
		c := &Conn{netConn: conn, enc: json.NewEncoder(conn)}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.clientLoop(ctx, c)
	}
}

// clientLoop processes one client's inbound messages in arrival order
// (spec §4.5, §5): each message's handler is dispatched through the
// bounded semaphore, but a single connection's own ordering is preserved
// by only reading the next frame after the current one is handled.
func (s *Server) clientLoop(ctx context.Context, c *Conn) {
	defer s.removeConn(c)
	defer c.netConn.Close()

	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.logger.Printf("ipc: %v: %v", errs.ErrMalformedMessage, err)
			continue
		}
		s.dispatch(ctx, c, env)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Printf("ipc: %v: %v", errs.ErrPeerDisconnected, err)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Conn, env Envelope) {
	s.mu.RLock()
	handler, ok := s.handlers[env.Type]
	s.mu.RUnlock()
	if !ok {
		s.logger.Printf("ipc: discarding unknown message type %q", env.Type)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return // shutting down
	}
	handler(c, env)
	s.sem.Release(1)
}

func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// SendMessage publishes env to every connected client. If no client is
// connected, the message is logged and dropped (spec §4.5: the event
// store retains the corresponding trigger, so no durable queue is
// required here).
func (s *Server) SendMessage(env Envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.conns) == 0 {
		s.logger.Printf("ipc: no client connected, dropping %s message %s", env.Type, env.ID)
		return
	}
	for c := range s.conns {
		if err := c.send(env); err != nil {
			s.logger.Printf("ipc: %v sending to client: %v", errs.ErrPeerDisconnected, err)
		}
	}
}

func (c *Conn) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(env)
}

// Send writes env to this connection only. Exported for handlers (e.g. the
// integrated monitor's control_command handler) that reply directly to the
// client that issued a request, rather than broadcasting via SendMessage.
func (c *Conn) Send(env Envelope) error {
	return c.send(env)
}

// NextID returns a unique, server-assigned message id.
func (s *Server) NextID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.idSeq++
	return fmt.Sprintf("srv-%d-%d", time.Now().UnixNano(), s.idSeq)
}

// Stop broadcasts a shutdown message, waits a short grace period, closes
// every client connection, closes the listener, and removes the socket
// file (spec §4.5, §4.7).
func (s *Server) Stop() error {
	shutdown, _ := NewEnvelope(TypeShutdown, s.NextID(), nil)
	s.SendMessage(shutdown)
	time.Sleep(500 * time.Millisecond)

	s.mu.Lock()
	for c := range s.conns {
		c.netConn.Close()
	}
	s.conns = make(map[*Conn]struct{})
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	_ = os.Remove(s.socketPath)
	return err
}
