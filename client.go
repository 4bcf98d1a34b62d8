package robin

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/robinmsg/robin/frame"
	"github.com/robinmsg/robin/log"
)

const noUser = -1

type client struct {
	ID          uint64
	ConnectedAt time.Time
	KilledAt    time.Time
	// uid of the acquired user, or noUser when unauthenticated
	uid   int
	email string
	// number of oversized command frames received on this connection
	oversized int
	conn      net.Conn
	bufin     *bufio.Reader
	bufout    *bufio.Writer
	// guards access to conn
	connGuard sync.Mutex
	log       log.Logger
}

// NewClient allocates a new client.
func NewClient(conn net.Conn, clientID uint64, logger log.Logger) *client {
	return &client{
		conn:        conn,
		ConnectedAt: time.Now(),
		bufin:       bufio.NewReader(conn),
		bufout:      bufio.NewWriter(conn),
		uid:         noUser,
		ID:          clientID,
		log:         logger,
	}
}

// init is called after the client is borrowed from the pool, to get it
// ready for the connection
func (c *client) init(conn net.Conn, clientID uint64) {
	c.connGuard.Lock()
	c.conn = conn
	c.connGuard.Unlock()
	// reset our reader & writer
	c.bufout.Reset(conn)
	c.bufin.Reset(conn)
	// reset session data
	c.KilledAt = time.Time{}
	c.ConnectedAt = time.Now()
	c.ID = clientID
	c.uid = noUser
	c.email = ""
	c.oversized = 0
}

// recvCommand reads the next command frame from the connection
func (c *client) recvCommand() ([]byte, error) {
	return frame.Recv(c.bufin, frame.DefaultMaxSize)
}

// sendReply writes the status frame followed by one frame per data
// line, then flushes. The caller is responsible for the reply framing
// contract: a negative status must come with no data lines.
func (c *client) sendReply(status string, data ...string) error {
	if err := frame.SendString(c.bufout, status); err != nil {
		return err
	}
	for _, line := range data {
		if err := frame.SendString(c.bufout, line); err != nil {
			return err
		}
	}
	return c.bufout.Flush()
}

// kill flags the connection to close on the next turn
func (c *client) kill() {
	c.KilledAt = time.Now()
}

// isAlive returns false if the client is to close on the next turn
func (c *client) isAlive() bool {
	return c.KilledAt.IsZero()
}

// setTimeout adjusts the read deadline on the connection, goroutine safe.
// A zero duration removes the deadline: blocked reads then persist
// until peer activity or keepalive failure.
func (c *client) setTimeout(t time.Duration) (err error) {
	defer c.connGuard.Unlock()
	c.connGuard.Lock()
	if c.conn != nil {
		if t == 0 {
			err = c.conn.SetDeadline(time.Time{})
		} else {
			err = c.conn.SetDeadline(time.Now().Add(t))
		}
	}
	return
}

// closeConn closes a client connection, goroutine safe
func (c *client) closeConn() {
	defer c.connGuard.Unlock()
	c.connGuard.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// getID returns the client's unique ID
func (c *client) getID() uint64 {
	return c.ID
}

func getRemoteAddr(conn net.Conn) string {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		// we just want the IP (not the port)
		return addr.IP.String()
	}
	return conn.RemoteAddr().Network()
}
