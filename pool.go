package robin

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robinmsg/robin/log"
)

var (
	ErrPoolShuttingDown = errors.New("server pool: shutting down")
)

// Pool holds Clients. It limits how many connections are served
// concurrently: Borrow blocks once all slots are taken, so at most
// poolSize clients are out serving at any time.
type Pool struct {
	// pool holds idle clients for reuse
	pool chan *client
	// activeClients caps the number of concurrently served clients
	activeClients chan *client
	// clients registers the active clients so that shutdown can
	// close their connections and unblock pending reads
	clients           allClients
	isShuttingDownFlg atomic.Bool
	borrowGuard       sync.Mutex
	shutdownOnce      sync.Once
	wg                sync.WaitGroup
}

type allClients struct {
	m  map[uint64]*client
	mu sync.Mutex // guards access to this struct
}

// NewPool creates a new pool of Clients.
func NewPool(poolSize int) *Pool {
	return &Pool{
		pool:          make(chan *client, poolSize),
		activeClients: make(chan *client, poolSize),
		clients:       allClients{m: make(map[uint64]*client, poolSize)},
	}
}

// ShutdownState locks the pool from borrowing, then kills all active
// clients and closes their connections so that workers blocked in a
// frame read return immediately.
func (p *Pool) ShutdownState() {
	p.shutdownOnce.Do(func() {
		p.borrowGuard.Lock() // lock indefinitely from borrowing from the pool
		p.isShuttingDownFlg.Store(true)
		p.clients.mu.Lock()
		defer p.clients.mu.Unlock()
		for _, c := range p.clients.m {
			c.kill()
			c.closeConn()
		}
	})
}

// ShutdownWait waits for all active clients to be returned
func (p *Pool) ShutdownWait() {
	p.wg.Wait()
}

// Shutdown stops the pool: no more borrowing, active clients are
// killed and waited for. Idempotent.
func (p *Pool) Shutdown() {
	p.ShutdownState()
	p.ShutdownWait()
}

// IsShuttingDown returns true if the pool is shutting down
func (p *Pool) IsShuttingDown() bool {
	return p.isShuttingDownFlg.Load()
}

// SetTimeout sets a timeout for all active clients
func (p *Pool) SetTimeout(duration time.Duration) {
	p.clients.mu.Lock()
	defer p.clients.mu.Unlock()
	for _, c := range p.clients.m {
		_ = c.setTimeout(duration)
	}
}

// GetActiveClientsCount gets the number of active clients that are
// currently out of the pool and busy serving
func (p *Pool) GetActiveClientsCount() int {
	return len(p.activeClients)
}

// Borrow a client from the pool. Blocks if all serving slots are taken.
func (p *Pool) Borrow(conn net.Conn, clientID uint64, logger log.Logger) (*client, error) {
	p.borrowGuard.Lock()
	defer p.borrowGuard.Unlock()
	var c *client
	if p.isShuttingDownFlg.Load() {
		// pool is shutting down.
		return c, ErrPoolShuttingDown
	}
	select {
	case c = <-p.pool:
		c.init(conn, clientID)
	default:
		c = NewClient(conn, clientID, logger)
	}
	p.activeClients <- c // block the client from serving until there is room
	p.clients.mu.Lock()
	p.clients.m[clientID] = c
	p.clients.mu.Unlock()
	p.wg.Add(1)
	return c, nil
}

// Return returns a client back to the pool.
func (p *Pool) Return(c *client) {
	p.clients.mu.Lock()
	delete(p.clients.m, c.ID)
	p.clients.mu.Unlock()
	select {
	case p.pool <- c:
	default:
		// hasta la vista, baby...
	}
	<-p.activeClients // make room for the next serving client
	p.wg.Done()
}
