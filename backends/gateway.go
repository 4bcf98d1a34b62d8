package backends

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robinmsg/robin/cip"
	"github.com/robinmsg/robin/log"
)

var ErrProcessorNotFound error

// A backend gateway is a proxy that implements the Backend interface.
// It starts multiple goroutine workers for archiving cips, and
// distributes cips to the workers via a channel. Shutting down via
// Shutdown() will stop all workers.
// The rest of the program always talks to the backend via this gateway.
type BackendGateway struct {
	// channel for distributing cips to workers
	conveyor chan *workerMsg

	// waits for backend workers to start/stop
	wg           sync.WaitGroup
	workStoppers []chan bool
	chains       []Processor

	// controls access to state
	sync.Mutex
	State    backendState
	config   BackendConfig
	gwConfig *GatewayConfig
}

type GatewayConfig struct {
	// WorkersSize controls how many concurrent workers to start. Defaults to 1
	WorkersSize int `json:"archive_workers_size,omitempty"`
	// ProcessorStack controls which processors to chain in a stack
	ProcessorStack string `json:"archive_process,omitempty"`
	// TimeoutArchive is the number of seconds before timeout when archiving a cip
	TimeoutArchive int `json:"archive_timeout,omitempty"`
}

// workerMsg is what gets placed on the conveyor channel
type workerMsg struct {
	c *cip.Cip
	// notifyMe is used to notify the gateway when a worker is done
	notifyMe chan *notifyMsg
}

type notifyMsg struct {
	err error
}

type backendState int

// possible values for state
const (
	BackendStateNew backendState = iota
	BackendStateRunning
	BackendStateShuttered
	BackendStateError
	BackendStateInitialized

	// default timeout for archiving a cip, if 'archive_timeout' not present in config
	archiveTimeout = time.Second * 30

	defaultProcessor = "debugger"
)

func (s backendState) String() string {
	switch s {
	case BackendStateNew:
		return "NewState"
	case BackendStateRunning:
		return "RunningState"
	case BackendStateShuttered:
		return "ShutteredState"
	case BackendStateError:
		return "ErrorState"
	case BackendStateInitialized:
		return "InitializedState"
	}
	return strconv.Itoa(int(s))
}

// New makes a new default BackendGateway backend, and initializes it
// using backendConfig and stores the logger
func New(backendConfig BackendConfig, l log.Logger) (Backend, error) {
	Svc.SetMainlog(l)
	// clear out initializers and shutdowners left over from a previous
	// gateway, eg. after a config reload
	Svc.reset()
	gateway := &BackendGateway{}
	err := gateway.Initialize(backendConfig)
	if err != nil {
		return nil, fmt.Errorf("error while initializing the backend: %s", err)
	}
	// keep the config known to be good
	gateway.config = backendConfig

	b = Backend(gateway)
	return b, nil
}

// Process distributes a cip to one of the backend workers
func (gw *BackendGateway) Process(c *cip.Cip) Result {
	if gw.State != BackendStateRunning {
		return NewResult("-1 backend not running: " + gw.State.String())
	}
	// place on the channel so that one of the workers can pick it up
	notify := make(chan *notifyMsg)
	gw.conveyor <- &workerMsg{c, notify}
	// wait for the archive to complete, or timeout
	select {
	case status := <-notify:
		if status.err != nil {
			return NewResult("-1 archive failed: " + status.err.Error())
		}
		return NewResult("0 archived")

	case <-time.After(gw.archiveTimeout()):
		Log().Error("backend has timed out while archiving a cip")
		return NewResult("-1 archive timeout")
	}
}

// Shutdown shuts down the backend and leaves it in BackendStateShuttered state
func (gw *BackendGateway) Shutdown() error {
	gw.Lock()
	defer gw.Unlock()
	if gw.State != BackendStateShuttered {
		// send a signal to all workers
		gw.stopWorkers()
		// wait for workers to stop
		gw.wg.Wait()
		// call shutdown on all processor shutdowners
		if err := Svc.shutdown(); err != nil {
			return err
		}
		gw.State = BackendStateShuttered
	}
	return nil
}

// Reinitialize initializes the gateway with the existing config after it was shutdown
func (gw *BackendGateway) Reinitialize() error {
	if gw.State != BackendStateShuttered {
		return errors.New("backend must be in BackendStateShuttered state to Reinitialize")
	}
	Svc.reset()

	err := gw.Initialize(gw.config)
	if err != nil {
		return fmt.Errorf("error while initializing the backend: %s", err)
	}
	return err
}

// newChain creates a new Processor by chaining multiple Processors in a
// call stack. Decorators are functions of Decorator type, source files
// prefixed with p_*. Each decorator does a specific task during the
// archiving stage. This function uses the config value archive_process
// to figure out which Decorators to use.
func (gw *BackendGateway) newChain() (Processor, error) {
	var decorators []Decorator
	cfg := strings.ToLower(strings.TrimSpace(gw.gwConfig.ProcessorStack))
	if len(cfg) == 0 {
		cfg = defaultProcessor
	}
	items := strings.Split(cfg, "|")
	for i := range items {
		name := items[len(items)-1-i] // reverse order, since decorators are stacked
		if makeFunc, ok := processors[name]; ok {
			decorators = append(decorators, makeFunc())
		} else {
			ErrProcessorNotFound = fmt.Errorf("processor [%s] not found", name)
			return nil, ErrProcessorNotFound
		}
	}
	// build the call-stack of decorators
	p := Decorate(DefaultProcessor{}, decorators...)
	return p, nil
}

// loadConfig loads the config for the GatewayConfig
func (gw *BackendGateway) loadConfig(cfg BackendConfig) error {
	configType := baseConfig(&GatewayConfig{})
	// Note: treat config values as immutable. To change a config
	// value, change the file then send a SIGHUP.
	bcfg, err := Svc.ExtractConfig(cfg, configType)
	if err != nil {
		return err
	}
	gw.gwConfig = bcfg.(*GatewayConfig)
	return nil
}

// Initialize builds the worker chains and initializes each processor
func (gw *BackendGateway) Initialize(cfg BackendConfig) error {
	gw.Lock()
	defer gw.Unlock()
	if gw.State != BackendStateNew && gw.State != BackendStateShuttered {
		return errors.New("can only Initialize in BackendStateNew or BackendStateShuttered state")
	}
	err := gw.loadConfig(cfg)
	if err != nil {
		gw.State = BackendStateError
		return err
	}
	workersSize := gw.workersSize()
	if workersSize < 1 {
		gw.State = BackendStateError
		return errors.New("must have at least 1 worker")
	}
	gw.chains = make([]Processor, 0)
	for i := 0; i < workersSize; i++ {
		p, err := gw.newChain()
		if err != nil {
			gw.State = BackendStateError
			return err
		}
		gw.chains = append(gw.chains, p)
	}
	// initialize processors
	if err := Svc.initialize(cfg); err != nil {
		gw.State = BackendStateError
		return err
	}
	if gw.conveyor == nil {
		gw.conveyor = make(chan *workerMsg, workersSize)
	}
	// ready to start
	gw.State = BackendStateInitialized
	return nil
}

// Start starts the worker goroutines, assuming it has been initialized
// or shuttered before
func (gw *BackendGateway) Start() error {
	gw.Lock()
	defer gw.Unlock()
	if gw.State == BackendStateInitialized || gw.State == BackendStateShuttered {
		// we start our workers
		workersSize := gw.workersSize()
		// make our slice of channels for stopping
		gw.workStoppers = make([]chan bool, 0)
		// set the wait group
		gw.wg.Add(workersSize)

		for i := 0; i < workersSize; i++ {
			stop := make(chan bool)
			go func(workerId int, stop chan bool) {
				// blocks here until the worker exits
				gw.workDispatcher(gw.conveyor, gw.chains[workerId], workerId+1, stop)
				gw.wg.Done()
			}(i, stop)
			gw.workStoppers = append(gw.workStoppers, stop)
		}
		gw.State = BackendStateRunning
		return nil
	}
	return fmt.Errorf("cannot start backend because it's in %s state", gw.State)
}

// workersSize gets the number of workers to use for archiving cips by
// reading the archive_workers_size config value. Returns 1 if no config
// value was set.
func (gw *BackendGateway) workersSize() int {
	if gw.gwConfig.WorkersSize == 0 {
		return 1
	}
	return gw.gwConfig.WorkersSize
}

// archiveTimeout returns the maximum amount of time to wait before
// timing out an archive task
func (gw *BackendGateway) archiveTimeout() time.Duration {
	if gw.gwConfig.TimeoutArchive == 0 {
		return archiveTimeout
	}
	return time.Duration(gw.gwConfig.TimeoutArchive) * time.Second
}

func (gw *BackendGateway) workDispatcher(workIn chan *workerMsg, p Processor, workerId int, stop chan bool) {
	defer func() {
		if r := recover(); r != nil {
			// recover from closed channel
			Log().Error("worker recovered from panic:", r, string(debug.Stack()))
		}
	}()
	Log().Infof("processing worker started (#%d)", workerId)
	for {
		select {
		case <-stop:
			Log().Infof("stop signal for worker (#%d)", workerId)
			return
		case msg := <-workIn:
			if msg == nil {
				Log().Debugf("worker stopped (#%d)", workerId)
				return
			}
			result, err := p.Process(msg.c)
			if err != nil {
				msg.notifyMe <- &notifyMsg{err: err}
			} else if result.Code() < 0 {
				msg.notifyMe <- &notifyMsg{err: errors.New(result.String())}
			} else {
				msg.notifyMe <- &notifyMsg{}
			}
		}
	}
}

// stopWorkers sends a signal to all workers to stop
func (gw *BackendGateway) stopWorkers() {
	for i := range gw.workStoppers {
		gw.workStoppers[i] <- true
	}
}
