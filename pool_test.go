package robin

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinmsg/robin/log"
)

func poolTestLogger(t *testing.T) log.Logger {
	l, err := log.GetLogger("off", "debug")
	require.NoError(t, err)
	return l
}

func TestPoolBorrowReturn(t *testing.T) {
	p := NewPool(2)
	logger := poolTestLogger(t)

	a, b := net.Pipe()
	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()
	c1, err := p.Borrow(a, 1, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, p.GetActiveClientsCount())

	p.Return(c1)
	assert.Equal(t, 0, p.GetActiveClientsCount())

	// the client object is reused on the next borrow
	c2, err := p.Borrow(a, 2, logger)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, uint64(2), c2.getID())
	assert.Equal(t, noUser, c2.uid)
	p.Return(c2)
}

func TestPoolCapsActiveClients(t *testing.T) {
	p := NewPool(1)
	logger := poolTestLogger(t)

	a, b := net.Pipe()
	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()
	c1, err := p.Borrow(a, 1, logger)
	require.NoError(t, err)

	borrowed := make(chan *client)
	go func() {
		c, err := p.Borrow(b, 2, logger)
		require.NoError(t, err)
		borrowed <- c
	}()

	select {
	case <-borrowed:
		t.Fatal("second borrow should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	p.Return(c1)
	select {
	case c2 := <-borrowed:
		p.Return(c2)
	case <-time.After(time.Second):
		t.Fatal("second borrow did not unblock after a return")
	}
}

func TestPoolShutdown(t *testing.T) {
	p := NewPool(2)
	logger := poolTestLogger(t)

	a, b := net.Pipe()
	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()
	c, err := p.Borrow(a, 1, logger)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		// simulates a worker blocked reading a command
		_, _ = c.recvCommand()
		p.Return(c)
		close(done)
	}()

	go p.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not unblock the reading worker")
	}
	assert.True(t, p.IsShuttingDown())
	assert.False(t, c.isAlive())

	// Shutdown is idempotent
	p.Shutdown()
}
