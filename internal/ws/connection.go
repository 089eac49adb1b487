package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one dialed WebSocket with a write mutex for serializing
// outbound frames. It is replaced, never reused, after a drop.
type Connection struct {
	Conn      net.Conn
	writeMu   sync.Mutex
	lastRead  atomic.Int64 // unix nanos of the last inbound message
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(conn net.Conn) *Connection {
	c := &Connection{Conn: conn, done: make(chan struct{})}
	c.touch()
	return c
}

// WriteFrame encodes and sends a STOMP frame as one WebSocket text message.
func (c *Connection) WriteFrame(f *Frame) error {
	return c.writeText(f.Encode())
}

// WriteHeartbeat sends a bare end-of-line.
func (c *Connection) WriteHeartbeat() error {
	return c.writeText([]byte{'\n'})
}

func (c *Connection) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.Conn, ws.OpText, data)
}

// ReadFrame blocks for the next inbound frame. Heart-beats update the
// activity timestamp and are skipped.
func (c *Connection) ReadFrame() (*Frame, error) {
	for {
		data, _, err := wsutil.ReadServerData(c.Conn)
		if err != nil {
			return nil, err
		}
		c.touch()
		f, err := ParseFrame(data)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

// LastRead returns the time of the last inbound message.
func (c *Connection) LastRead() time.Time {
	return time.Unix(0, c.lastRead.Load())
}

func (c *Connection) touch() {
	c.lastRead.Store(time.Now().UnixNano())
}

// Close closes the underlying network connection. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
