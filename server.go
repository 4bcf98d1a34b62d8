package robin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robinmsg/robin/backends"
	"github.com/robinmsg/robin/cip"
	"github.com/robinmsg/robin/frame"
	"github.com/robinmsg/robin/log"
	"github.com/robinmsg/robin/metrics"
	"github.com/robinmsg/robin/user"
)

const (
	// server has just been created
	ServerStateNew = iota
	// Server has just been stopped
	ServerStateStopped
	// Server has been started and is running
	ServerStateRunning
	// Server could not start due to an error
	ServerStateStartError
)

// TCP keepalive settings applied to every accepted connection. With no
// per-command timeout by default, keepalive is what reaps dead peers.
const (
	keepAliveIdle     = 10 * time.Second
	keepAliveInterval = 10 * time.Second
	keepAliveCount    = 6
)

// Server listens for clients on the interface specified in its config
// and hands each accepted connection to a pooled worker running the
// command loop.
type server struct {
	configStore     atomic.Value // stores ServerConfig
	backendStore    atomic.Value // stores backends.Backend
	users           *user.Store
	cips            *cip.Log
	metrics         metrics.Collector
	timeout         atomic.Value // stores time.Duration
	listenInterface string
	clientPool      *Pool
	listener        net.Listener
	closedListener  chan bool
	logStore        atomic.Value // stores log.Logger
	state           int
}

// Creates and returns a new ready-to-run server from a configuration
func newServer(sc *ServerConfig, b backends.Backend, users *user.Store, cips *cip.Log, mc metrics.Collector, mainlog log.Logger) (*server, error) {
	sv := &server{
		users:           users,
		cips:            cips,
		metrics:         mc,
		clientPool:      NewPool(sc.MaxClients),
		closedListener:  make(chan bool, 1),
		listenInterface: sc.ListenInterface,
		state:           ServerStateNew,
	}
	sv.setConfig(sc)
	sv.setBackend(b)
	sv.setTimeout(sc.Timeout)
	if logger, err := log.GetLogger(sc.LogFile, mainlog.GetLevel()); err == nil {
		sv.logStore.Store(logger)
	} else {
		sv.logStore.Store(mainlog)
	}
	return sv, nil
}

func (s *server) log() log.Logger {
	return s.logStore.Load().(log.Logger)
}

// goroutine safe backend store, so that a reloaded backend reaches
// running servers
func (s *server) setBackend(b backends.Backend) {
	s.backendStore.Store(b)
}

func (s *server) backend() backends.Backend {
	return s.backendStore.Load().(backends.Backend)
}

// setTimeout sets the timeout for the server and all clients, in seconds
func (s *server) setTimeout(seconds int) {
	duration := time.Duration(seconds) * time.Second
	s.clientPool.SetTimeout(duration)
	s.timeout.Store(duration)
}

// goroutine safe config store
func (s *server) setConfig(sc *ServerConfig) {
	s.configStore.Store(*sc)
}

// goroutine safe
func (s *server) isEnabled() bool {
	sc := s.configStore.Load().(ServerConfig)
	return sc.IsEnabled
}

// Begin accepting clients. Will block unless there is an error or
// s.Shutdown() is called
func (s *server) Start(startWG *sync.WaitGroup) error {
	var clientID uint64

	lc := net.ListenConfig{
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     keepAliveIdle,
			Interval: keepAliveInterval,
			Count:    keepAliveCount,
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", s.listenInterface)
	s.listener = listener
	if err != nil {
		startWG.Done() // don't wait for me
		s.state = ServerStateStartError
		return fmt.Errorf("[%s] cannot listen on interface: %s", s.listenInterface, err.Error())
	}

	s.log().Infof("Listening on TCP %s", s.listenInterface)
	s.state = ServerStateRunning
	startWG.Done() // start successful, don't wait for me

	for {
		s.log().Debugf("[%s] Waiting for a new client. Next Client ID: %d", s.listenInterface, clientID+1)
		conn, err := listener.Accept()
		clientID++
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.log().Infof("Server [%s] has stopped accepting new clients", s.listenInterface)
				// the listener has been closed, wait for clients to exit
				s.log().Infof("shutting down pool [%s]", s.listenInterface)
				s.clientPool.ShutdownState()
				s.clientPool.ShutdownWait()
				s.state = ServerStateStopped
				s.closedListener <- true
				return nil
			}
			s.log().WithError(err).Info("Temporary error accepting client")
			continue
		}
		go func(c *client, borrowErr error) {
			if borrowErr == nil {
				s.metrics.ConnectionOpened()
				s.handleClient(c)
				s.metrics.ConnectionClosed()
				s.clientPool.Return(c)
			} else {
				s.log().WithError(borrowErr).Info("couldn't borrow a new client")
				// we could not get a client, so close the connection.
				_ = conn.Close()
			}
			// intentionally placed Borrow in args so that it's called in the
			// same main goroutine.
		}(s.clientPool.Borrow(conn, clientID, s.log()))
	}
}

func (s *server) Shutdown() {
	if s.listener != nil {
		// This will cause Start function to return, by causing an error on listener.Accept
		_ = s.listener.Close()
		// wait for the accept loop to finish shutting down the pool
		<-s.closedListener
	} else {
		s.clientPool.ShutdownState()
		s.clientPool.ShutdownWait()
		s.state = ServerStateStopped
	}
}

func (s *server) GetActiveClientsCount() int {
	return s.clientPool.GetActiveClientsCount()
}

func (s *server) isShuttingDown() bool {
	return s.clientPool.IsShuttingDown()
}

// Handles an entire client session: reads command frames and
// dispatches them until the peer disconnects, the oversized counter
// trips, or the server shuts down. The cleanup hook releases any held
// uid and closes the connection no matter how the loop exits.
func (s *server) handleClient(c *client) {
	defer func() {
		if c.uid != noUser {
			s.users.Release(c.uid)
			c.uid = noUser
			c.email = ""
		}
		c.closeConn()
	}()
	s.log().WithConn(c.conn).Infof("Handle client [%s], id: %d", getRemoteAddr(c.conn), c.ID)

	for c.isAlive() {
		_ = c.setTimeout(s.timeout.Load().(time.Duration))
		payload, err := c.recvCommand()
		if err != nil {
			var tooLarge *frame.TooLargeError
			switch {
			case errors.As(err, &tooLarge):
				// the payload was drained, the stream is still in sync
				if replyErr := s.replyOversized(c); replyErr != nil {
					return
				}
				continue
			case errors.Is(err, frame.ErrShortHeader):
				s.log().WithConn(c.conn).Warn("Client sent a partial frame header")
				return
			default:
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					s.log().WithConn(c.conn).Warn("Timeout")
					return
				}
				// EOF and I/O errors end the session
				s.log().WithConn(c.conn).Debugf("Client closed the connection: %v", err)
				return
			}
		}
		if s.isShuttingDown() {
			// incoming commands are no longer served
			return
		}
		if len(payload) > CommandMaxLength {
			if replyErr := s.replyOversized(c); replyErr != nil {
				return
			}
			continue
		}
		if err := s.dispatchCommand(c, string(payload)); err != nil {
			s.log().WithConn(c.conn).WithError(err).Debug("Error writing reply")
			return
		}
	}
}

// replyOversized reports an oversized command and terminates the
// connection once the per-connection threshold is reached.
func (s *server) replyOversized(c *client) error {
	s.metrics.OversizedCommand()
	err := c.sendReply(fmt.Sprintf("-1 command string exceeds %d characters: cmd dropped", CommandMaxLength))
	c.oversized++
	if c.oversized >= MaxOversizedCommands {
		s.log().WithConn(c.conn).Info("Too many oversized commands, closing connection")
		c.kill()
	}
	return err
}
