package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/re-cinq/devtrackd/internal/errs"
)

// Client is the control surface's side of the IPC connection — used by
// `force-trigger`, `skip-next`, and `send-summary` to reach a running
// daemon (spec §4.8).
type Client struct {
	socketPath string

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	scanner *bufio.Scanner
}

// NewClient constructs a Client bound to socketPath (not yet connected).
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Connect dials the daemon's Unix domain socket.
func (c *Client) Connect() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNotRunning, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	c.scanner = scanner
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendMessage writes one newline-terminated JSON Envelope.
func (c *Client) SendMessage(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return fmt.Errorf("%w: not connected", errs.ErrNotRunning)
	}
	return c.enc.Encode(env)
}

// ReceiveMessage blocks for the next newline-terminated JSON Envelope.
func (c *Client) ReceiveMessage() (Envelope, error) {
	c.mu.Lock()
	scanner := c.scanner
	c.mu.Unlock()
	if scanner == nil {
		return Envelope{}, fmt.Errorf("%w: not connected", errs.ErrNotRunning)
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", errs.ErrPeerDisconnected, err)
		}
		return Envelope{}, fmt.Errorf("%w: connection closed", errs.ErrPeerDisconnected)
	}
	var env Envelope
	if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrMalformedMessage, err)
	}
	return env, nil
}

// StartListening runs handler for every inbound Envelope until a receive
// fails (connection closed, malformed frame); that error is then delivered
// on the returned channel.
func (c *Client) StartListening(handler func(Envelope)) <-chan error {
	done := make(chan error, 1)
	go func() {
		for {
			env, err := c.ReceiveMessage()
			if err != nil {
				done <- err
				return
			}
			handler(env)
		}
	}()
	return done
}
