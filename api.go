// Package robin is a multi-client messaging daemon: clients connect
// over TCP, authenticate, follow each other and publish cips (short
// posts with #hashtags) over a length-prefixed frame protocol.
package robin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robinmsg/robin/backends"
	"github.com/robinmsg/robin/cip"
	"github.com/robinmsg/robin/log"
	"github.com/robinmsg/robin/metrics"
	"github.com/robinmsg/robin/user"
)

const (
	defaultInterface  = "127.0.0.1:7475"
	defaultUsersFile  = "./users.txt"
	defaultMaxClients = 4
)

// Daemon provides the API to configure, start and gracefully shut down
// the app. Public fields can be set before calling Start; afterwards
// configuration changes go through ReloadConfig.
type Daemon struct {
	Config  *AppConfig
	Logger  log.Logger
	Backend backends.Backend

	EventHandler

	guard      sync.Mutex
	servers    map[string]*server
	users      *user.Store
	cips       *cip.Log
	collector  metrics.Collector
	metricsSrv *metrics.Server
	subscribed bool
	started    bool
	// set by Shutdown so the next Start knows to rebuild what was
	// torn down (users file handle, backend workers)
	stopped bool
}

// LoadConfig reads in the config from a json file and keeps it as the
// daemon's config.
func (d *Daemon) LoadConfig(path string) (AppConfig, error) {
	var ac AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return ac, fmt.Errorf("could not read config file: %s", err.Error())
	}
	if err := ac.Load(data); err != nil {
		return ac, err
	}
	d.Config = &ac
	return ac, nil
}

// SetConfig replaces the daemon's config before Start
func (d *Daemon) SetConfig(ac AppConfig) {
	d.Config = &ac
}

// configureDefaults fills in default settings for values that were not configured
func (d *Daemon) configureDefaults() error {
	if d.Config == nil {
		d.Config = &AppConfig{}
	}
	if d.Config.LogFile == "" {
		d.Config.LogFile = log.OutputStderr.String()
	}
	if d.Config.LogLevel == "" {
		d.Config.LogLevel = "info"
	}
	if d.Config.UsersFile == "" {
		d.Config.UsersFile = defaultUsersFile
	}
	if len(d.Config.Servers) == 0 {
		d.Config.Servers = append(d.Config.Servers, ServerConfig{
			IsEnabled:       true,
			ListenInterface: defaultInterface,
			MaxClients:      defaultMaxClients,
			LogFile:         d.Config.LogFile,
		})
	} else {
		for i := range d.Config.Servers {
			sc := &d.Config.Servers[i]
			if sc.MaxClients == 0 {
				sc.MaxClients = defaultMaxClients
			}
			if sc.LogFile == "" {
				sc.LogFile = d.Config.LogFile
			}
			if err := sc.Validate(); err != nil {
				return err
			}
		}
	}
	if d.Config.BackendConfig == nil {
		d.Config.BackendConfig = backends.BackendConfig{
			"archive_process":    "debugger",
			"log_published_cips": true,
		}
	}
	return nil
}

// Start opens the stores, the backend and all enabled servers.
func (d *Daemon) Start() (err error) {
	d.guard.Lock()
	defer d.guard.Unlock()
	if d.started {
		return nil
	}
	if err = d.configureDefaults(); err != nil {
		return err
	}
	if fLimit, err := getFileLimit(); err == nil {
		maxClients := 0
		for _, sc := range d.Config.Servers {
			if sc.IsEnabled {
				maxClients += sc.MaxClients
			}
		}
		if uint64(maxClients) > fLimit {
			return fmt.Errorf("combined max clients for all servers (%d) is greater than open file limit (%d), "+
				"please increase your open file limit or decrease max clients", maxClients, fLimit)
		}
	}
	if d.Logger == nil {
		d.Logger, err = log.GetLogger(d.Config.LogFile, d.Config.LogLevel)
		if err != nil {
			return err
		}
	}
	if d.users == nil {
		d.users, err = user.Open(d.Config.UsersFile)
		if err != nil {
			return err
		}
	}
	if d.cips == nil {
		d.cips = cip.NewLog()
	}
	if d.Backend == nil {
		d.Backend, err = backends.New(d.Config.BackendConfig, d.Logger)
		if err != nil {
			return err
		}
	} else if d.stopped {
		// the gateway was shuttered by Shutdown and its processors
		// released their resources; rebuild the chains before the
		// workers come back up
		if err = d.Backend.Reinitialize(); err != nil {
			return err
		}
	}
	if err = d.Backend.Start(); err != nil {
		return err
	}
	if d.collector == nil {
		if d.Config.MetricsListen != "" {
			p := metrics.NewPrometheus()
			d.collector = p
			d.metricsSrv = metrics.NewServer(d.Config.MetricsListen, p)
			go func() {
				if err := d.metricsSrv.Start(); err != nil {
					d.Logger.WithError(err).Error("metrics server failed")
				}
			}()
		} else {
			d.collector = metrics.Noop{}
		}
	}
	if err = d.subscribeEvents(); err != nil {
		return err
	}
	if d.Config.PidFile != "" {
		if err = d.writePid(d.Config.PidFile); err != nil {
			return err
		}
	}

	d.servers = make(map[string]*server, len(d.Config.Servers))
	var startWG sync.WaitGroup
	for i := range d.Config.Servers {
		sc := d.Config.Servers[i]
		if !sc.IsEnabled {
			continue
		}
		sv, err := newServer(&sc, d.Backend, d.users, d.cips, d.collector, d.Logger)
		if err != nil {
			return err
		}
		d.servers[sc.ListenInterface] = sv
		startWG.Add(1)
		go func() {
			if err := sv.Start(&startWG); err != nil {
				d.Logger.WithError(err).Error("server failed to start")
			}
		}()
	}
	// wait for the listeners to be up (or to have failed)
	startWG.Wait()
	var errs []error
	for iface, sv := range d.servers {
		if sv.state == ServerStateStartError {
			errs = append(errs, fmt.Errorf("server [%s] failed to start", iface))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.started = true
	d.stopped = false
	return nil
}

// Shutdown stops all servers, drains their workers and closes the
// stores and the backend. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.guard.Lock()
	defer d.guard.Unlock()
	if !d.started {
		return
	}
	for _, sv := range d.servers {
		sv.Shutdown()
	}
	if err := d.Backend.Shutdown(); err != nil {
		d.Logger.WithError(err).Error("backend shutdown failed")
	}
	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			d.Logger.WithError(err).Error("metrics server shutdown failed")
		}
		cancel()
		d.metricsSrv = nil
		d.collector = nil
	}
	if err := d.users.Close(); err != nil {
		d.Logger.WithError(err).Error("could not close the users file")
	}
	// the append handle is gone; drop the store so a later Start
	// reopens the users file instead of registering into the void
	d.users = nil
	d.started = false
	d.stopped = true
	d.Logger.Info("Shutdown completed")
}

// ReloadConfig applies a new config, emitting change events for the
// parts that differ. Call on SIGHUP.
func (d *Daemon) ReloadConfig(ac AppConfig) error {
	d.guard.Lock()
	oldConfig := d.Config
	d.Config = &ac
	d.guard.Unlock()
	if oldConfig == nil {
		return errors.New("daemon was never configured")
	}
	ac.EmitChangeEvents(oldConfig, d)
	d.Logger.Info("Configuration was reloaded")
	return nil
}

// ReopenLogs re-opens all log files, for use after log rotation.
// Call on SIGUSR1.
func (d *Daemon) ReopenLogs() error {
	d.guard.Lock()
	defer d.guard.Unlock()
	if d.Config == nil {
		return errors.New("daemon was never configured")
	}
	d.Config.EmitLogReopenEvents(d)
	return nil
}

// startServer creates a fresh server for sc and waits for its listener
// to come up. A stopped server is never reused: its client pool has
// been drained for good, so enabling it again gets a new one.
func (d *Daemon) startServer(sc *ServerConfig) {
	// servers arriving via a config reload have not been through
	// configureDefaults
	if sc.MaxClients == 0 {
		sc.MaxClients = defaultMaxClients
	}
	if sc.LogFile == "" {
		sc.LogFile = d.Config.LogFile
	}
	sv, err := newServer(sc, d.Backend, d.users, d.cips, d.collector, d.Logger)
	if err != nil {
		d.Logger.WithError(err).Errorf("could not create server [%s]", sc.ListenInterface)
		return
	}
	d.servers[sc.ListenInterface] = sv
	var startWG sync.WaitGroup
	startWG.Add(1)
	go func() {
		if err := sv.Start(&startWG); err != nil {
			d.Logger.WithError(err).Error("server failed to start")
		}
	}()
	startWG.Wait()
}

func (d *Daemon) writePid(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		d.Logger.WithError(err).Errorf("Error while writing pidFile (%s)", path)
		return err
	}
	d.Logger.Infof("pid_file (%s) written with pid:%v", path, pid)
	return nil
}

// subscribeEvents wires the config change events to their effects
func (d *Daemon) subscribeEvents() error {
	if d.subscribed {
		return nil
	}
	var errs []error
	sub := func(topic Event, fn interface{}) {
		if err := d.Subscribe(topic, fn); err != nil {
			errs = append(errs, err)
		}
	}

	// main log file changed
	sub(EventConfigLogFile, func(c *AppConfig) {
		l, err := log.GetLogger(c.LogFile, c.LogLevel)
		if err != nil {
			d.Logger.WithError(err).Error("could not change the log file")
			return
		}
		d.Logger = l
	})
	// re-open the main log file (file was rotated)
	sub(EventConfigLogReopen, func(c *AppConfig) {
		if err := d.Logger.Reopen(); err != nil {
			d.Logger.WithError(err).Error("could not re-open the log file")
			return
		}
		d.Logger.Infof("re-opened log file (%s)", c.LogFile)
	})
	// log level changed
	sub(EventConfigLogLevel, func(c *AppConfig) {
		d.Logger.SetLevel(c.LogLevel)
		d.Logger.Infof("log level changed to [%s]", c.LogLevel)
	})
	// pid file changed
	sub(EventConfigPidFile, func(c *AppConfig) {
		_ = d.writePid(c.PidFile)
	})
	// users file changed; applied on next restart, the open store is
	// the system of record for the running process
	sub(EventConfigUsersFile, func(c *AppConfig) {
		d.Logger.Infof("users_file changed to (%s), applied on next restart", c.UsersFile)
	})
	// per-server log file changed
	sub(EventConfigServerLogFile, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			l, err := log.GetLogger(sc.LogFile, d.Logger.GetLevel())
			if err != nil {
				d.Logger.WithError(err).Error("could not change the server's log file")
				return
			}
			sv.logStore.Store(l)
		}
	})
	// re-open the server's log file
	sub(EventConfigServerLogReopen, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			if err := sv.log().Reopen(); err != nil {
				d.Logger.WithError(err).Errorf("could not re-open log file [%s]", sc.ListenInterface)
				return
			}
			d.Logger.Infof("re-opened server log file (%s)", sc.LogFile)
		}
	})
	// server timeout changed
	sub(EventConfigServerTimeout, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			sv.setTimeout(sc.Timeout)
		}
	})
	// the pool is sized at server construction, so a max_clients
	// change needs a restart of that server
	sub(EventConfigServerMaxClients, func(sc *ServerConfig) {
		d.Logger.Infof("max_clients for [%s] changed, applied on next restart", sc.ListenInterface)
	})
	// server config was updated
	sub(EventConfigServerConfig, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			sv.setConfig(sc)
			d.Logger.Infof("server [%s] config was updated", sc.ListenInterface)
		}
	})
	// a server was added to the config
	sub(EventConfigServerNew, func(sc *ServerConfig) {
		if sc.IsEnabled {
			d.startServer(sc)
		}
	})
	// a server was enabled
	sub(EventConfigServerStart, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok && sv.state == ServerStateRunning {
			return
		}
		d.startServer(sc)
	})
	// a server was disabled
	sub(EventConfigServerStop, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			sv.Shutdown()
			d.Logger.Infof("server [%s] stopped", sc.ListenInterface)
		}
	})
	// a server was removed from the config
	sub(EventConfigServerRemove, func(sc *ServerConfig) {
		if sv, ok := d.servers[sc.ListenInterface]; ok {
			sv.Shutdown()
			delete(d.servers, sc.ListenInterface)
			d.Logger.Infof("server [%s] removed", sc.ListenInterface)
		}
	})
	// backend config changed; build a new gateway and swap it into the
	// running servers. On failure archiving stays down until the next
	// successful reload, publishes themselves are unaffected.
	sub(EventConfigBackendConfig, func(c *AppConfig) {
		if err := d.Backend.Shutdown(); err != nil {
			d.Logger.WithError(err).Error("backend shutdown failed")
			return
		}
		nb, err := backends.New(c.BackendConfig, d.Logger)
		if err != nil {
			d.Logger.WithError(err).Error("could not reload the backend")
			return
		}
		if err := nb.Start(); err != nil {
			d.Logger.WithError(err).Error("could not start the reloaded backend")
			return
		}
		d.Backend = nb
		for _, sv := range d.servers {
			sv.setBackend(nb)
		}
		d.Logger.Info("archive backend was reloaded")
	})

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.subscribed = true
	return nil
}
