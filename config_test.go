package robin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configJSONA = `
{
    "users_file": "./users.txt",
    "pid_file": "tests/robind.pid",
    "log_file": "off",
    "log_level": "debug",
    "servers": [
        {
            "is_enabled": true,
            "listen_interface": "127.0.0.1:7475",
            "max_clients": 4,
            "timeout": 160
        },
        {
            "is_enabled": false,
            "listen_interface": "127.0.0.1:7476",
            "max_clients": 8
        }
    ],
    "backend_config": {
        "archive_process": "debugger",
        "log_published_cips": true
    }
}
`

// timeout, log level and pid file changed; the second server is now
// enabled and a third one appears
var configJSONB = `
{
    "users_file": "./users.txt",
    "pid_file": "tests/robind2.pid",
    "log_file": "off",
    "log_level": "info",
    "servers": [
        {
            "is_enabled": true,
            "listen_interface": "127.0.0.1:7475",
            "max_clients": 4,
            "timeout": 180
        },
        {
            "is_enabled": true,
            "listen_interface": "127.0.0.1:7476",
            "max_clients": 8
        }
    ],
    "backend_config": {
        "archive_process": "debugger",
        "log_published_cips": true
    }
}
`

func TestConfigLoad(t *testing.T) {
	ac := &AppConfig{}
	require.NoError(t, ac.Load([]byte(configJSONA)))
	require.Len(t, ac.Servers, 2)
	assert.Equal(t, "./users.txt", ac.UsersFile)
	assert.Equal(t, 160, ac.Servers[0].Timeout)
	assert.False(t, ac.Servers[1].IsEnabled)
	assert.Equal(t, "debugger", ac.BackendConfig["archive_process"])
}

func TestConfigLoadErrors(t *testing.T) {
	ac := &AppConfig{}
	assert.Error(t, ac.Load([]byte("{ not json")))

	// a server without a listen interface is invalid
	assert.Error(t, ac.Load([]byte(`{"servers":[{"is_enabled":true}]}`)))
}

func TestServerConfigDiff(t *testing.T) {
	a := ServerConfig{IsEnabled: true, ListenInterface: "127.0.0.1:7475", MaxClients: 4, Timeout: 160}
	b := a
	b.Timeout = 180
	b.MaxClients = 8

	changes := getDiff(a, b)
	assert.Len(t, changes, 2)
	assert.Contains(t, changes, "Timeout")
	assert.Contains(t, changes, "MaxClients")
}

func TestEmitChangeEvents(t *testing.T) {
	oldAC := &AppConfig{}
	require.NoError(t, oldAC.Load([]byte(configJSONA)))
	newAC := &AppConfig{}
	require.NoError(t, newAC.Load([]byte(configJSONB)))

	app := &Daemon{}
	var events []Event
	record := func(e Event) func(interface{}) {
		return func(interface{}) { events = append(events, e) }
	}
	for _, e := range []Event{
		EventConfigNewConfig, EventConfigPidFile, EventConfigLogLevel,
		EventConfigServerStart, EventConfigServerNew, EventConfigServerTimeout,
	} {
		require.NoError(t, app.Subscribe(e, record(e)))
	}

	newAC.EmitChangeEvents(oldAC, app)

	assert.Contains(t, events, EventConfigNewConfig)
	assert.Contains(t, events, EventConfigPidFile)
	assert.Contains(t, events, EventConfigLogLevel)
	assert.Contains(t, events, EventConfigServerStart, "second server was enabled")
	assert.Contains(t, events, EventConfigServerTimeout)
	assert.NotContains(t, events, EventConfigServerNew)
}
