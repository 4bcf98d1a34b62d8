package robin

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/robinmsg/robin/backends"
)

// AppConfig is the holder of the configuration of the app
type AppConfig struct {
	// Servers can have one or more items.
	Servers []ServerConfig `json:"servers"`
	// UsersFile is the path of the append-only users file, the system
	// of record for registered accounts
	UsersFile string `json:"users_file,omitempty"`
	// PidFile is the path of the pid file
	PidFile string `json:"pid_file,omitempty"`
	// LogFile is where the logs go, can be a file path, "off",
	// "stderr" or "stdout"
	LogFile string `json:"log_file,omitempty"`
	// LogLevel is a logrus level string ("info", "debug", ...)
	LogLevel string `json:"log_level,omitempty"`
	// BackendConfig configures the archive pipeline
	BackendConfig backends.BackendConfig `json:"backend_config,omitempty"`
	// MetricsListen exposes prometheus metrics over HTTP when set
	MetricsListen string `json:"metrics_listen,omitempty"`
}

// ServerConfig specifies config options for a single server
type ServerConfig struct {
	IsEnabled       bool   `json:"is_enabled"`
	ListenInterface string `json:"listen_interface"`
	// MaxClients is the number of clients served concurrently, which
	// is also the size of the worker pool
	MaxClients int `json:"max_clients"`
	// Timeout in seconds for a blocked command read; 0 disables the
	// deadline and leaves dead-peer detection to TCP keepalive
	Timeout int    `json:"timeout,omitempty"`
	LogFile string `json:"log_file,omitempty"`
}

// Load unmarshalls json data into the AppConfig struct and validates
// it, returns error if validation failed or something went wrong
func (c *AppConfig) Load(jsonBytes []byte) error {
	err := json.Unmarshal(jsonBytes, c)
	if err != nil {
		return fmt.Errorf("could not parse config file: %s", err)
	}
	// all servers must be valid in order to continue
	for i := range c.Servers {
		if err := c.Servers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EmitChangeEvents compares to the old config and emits any change
// events onto the event bus.
func (c *AppConfig) EmitChangeEvents(oldConfig *AppConfig, app *Daemon) {
	// has config changed, general check
	if !reflect.DeepEqual(oldConfig, c) {
		app.Publish(EventConfigNewConfig, c)
	}
	// has pid file changed?
	if strings.Compare(oldConfig.PidFile, c.PidFile) != 0 {
		app.Publish(EventConfigPidFile, c)
	}
	// has users file changed?
	if strings.Compare(oldConfig.UsersFile, c.UsersFile) != 0 {
		app.Publish(EventConfigUsersFile, c)
	}
	// has mainlog log changed?
	if strings.Compare(oldConfig.LogFile, c.LogFile) != 0 {
		app.Publish(EventConfigLogFile, c)
	} else {
		// since log file has not changed, we reopen it
		app.Publish(EventConfigLogReopen, c)
	}
	// has log level changed?
	if strings.Compare(oldConfig.LogLevel, c.LogLevel) != 0 {
		app.Publish(EventConfigLogLevel, c)
	}
	// has the backend config changed?
	if !reflect.DeepEqual(oldConfig.BackendConfig, c.BackendConfig) {
		app.Publish(EventConfigBackendConfig, c)
	}
	// server config changes
	oldServers := oldConfig.getServers()
	for iface, newServer := range c.getServers() {
		// is the server in both configs?
		if oldServer, ok := oldServers[iface]; ok {
			// since the old server exists in the new config, we do not track it anymore
			delete(oldServers, iface)
			newServer.emitChangeEvents(oldServer, app)
		} else {
			// start new server
			app.Publish(EventConfigServerNew, newServer)
		}
	}
	// remove any servers that don't exist anymore
	for _, oldserver := range oldServers {
		app.Publish(EventConfigServerRemove, oldserver)
	}
}

// EmitLogReopenEvents emits log reopen events using the existing config
func (c *AppConfig) EmitLogReopenEvents(app *Daemon) {
	app.Publish(EventConfigLogReopen, c)
	for _, sc := range c.getServers() {
		app.Publish(EventConfigServerLogReopen, sc)
	}
}

// gets the servers in a map (keyed by interface) for easy lookup
func (c *AppConfig) getServers() map[string]*ServerConfig {
	servers := make(map[string]*ServerConfig, len(c.Servers))
	for i := 0; i < len(c.Servers); i++ {
		servers[c.Servers[i].ListenInterface] = &c.Servers[i]
	}
	return servers
}

// Emits any configuration change events on the server.
// All events are fired and run synchronously.
func (sc *ServerConfig) emitChangeEvents(oldServer *ServerConfig, app *Daemon) {
	// get a list of changes
	changes := getDiff(
		*oldServer,
		*sc,
	)
	if len(changes) > 0 {
		// something changed in the server config
		app.Publish(EventConfigServerConfig, sc)
	}

	// enable or disable?
	if _, ok := changes["IsEnabled"]; ok {
		if sc.IsEnabled {
			app.Publish(EventConfigServerStart, sc)
		} else {
			app.Publish(EventConfigServerStop, sc)
		}
		// do not emit any more events when IsEnabled changed
		return
	}
	// log file change?
	if _, ok := changes["LogFile"]; ok {
		app.Publish(EventConfigServerLogFile, sc)
	} else {
		// since log file has not changed, we reopen it
		app.Publish(EventConfigServerLogReopen, sc)
	}
	// timeout changed
	if _, ok := changes["Timeout"]; ok {
		app.Publish(EventConfigServerTimeout, sc)
	}
	// max_clients changed
	if _, ok := changes["MaxClients"]; ok {
		app.Publish(EventConfigServerMaxClients, sc)
	}
}

// Validate validates the server's configuration.
func (sc *ServerConfig) Validate() error {
	if sc.ListenInterface == "" {
		return errors.New("listen interface not specified")
	}
	if sc.MaxClients < 0 {
		return fmt.Errorf("max_clients must not be negative for [%s]", sc.ListenInterface)
	}
	return nil
}

// Returns a diff between struct a & struct b.
// Results are returned in a map, where each key is the name of the
// field that was different. a and b must be struct values of the same
// type, not pointers.
func getDiff(a interface{}, b interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, 5)
	compareWith := structtomap(b)
	for key, val := range structtomap(a) {
		if val != compareWith[key] {
			ret[key] = compareWith[key]
		}
	}
	return ret
}

// Convert fields of a struct to a map
// only able to convert int, bool and string; not recursive
func structtomap(obj interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, 0)
	v := reflect.ValueOf(obj)
	t := v.Type()
	for index := 0; index < v.NumField(); index++ {
		vField := v.Field(index)
		fName := t.Field(index).Name

		switch vField.Kind() {
		case reflect.Int:
			ret[fName] = vField.Int()
		case reflect.String:
			ret[fName] = vField.String()
		case reflect.Bool:
			ret[fName] = vField.Bool()
		}
	}
	return ret
}
