package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	robin "github.com/robinmsg/robin"
	"github.com/robinmsg/robin/log"
)

const (
	defaultPidFile = "/var/run/robind.pid"
)

var (
	configPath string
	pidFile    string

	serveCmd = &cobra.Command{
		Use:   "serve [host port]",
		Short: "start the daemon and all enabled servers",
		Args:  cobra.RangeArgs(0, 2),
		Run:   serve,
	}

	signalChannel = make(chan os.Signal, 1) // for trapping SIGHUP and friends
	mainlog       log.Logger

	d robin.Daemon
)

func init() {
	// log to stderr on startup
	var err error
	mainlog, err = log.GetLogger(log.OutputStderr.String(), "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed creating a logger:", err)
	}
	serveCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"robind.conf.json", "Path to the configuration file")
	// intentionally didn't specify default pidFile; value from config is used if flag is empty
	serveCmd.PersistentFlags().StringVarP(&pidFile, "pidFile", "p",
		"", "Path to the pid file")
	rootCmd.AddCommand(serveCmd)
}

func sigHandler() {
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGINT,
		syscall.SIGUSR1,
	)
	for sig := range signalChannel {
		if sig == syscall.SIGHUP {
			if ac, err := readConfig(configPath, pidFile, nil); err == nil {
				if err := d.ReloadConfig(*ac); err != nil {
					mainlog.WithError(err).Error("Could not reload config")
				}
			} else {
				mainlog.WithError(err).Error("Could not reload config")
			}
		} else if sig == syscall.SIGUSR1 {
			if err := d.ReopenLogs(); err != nil {
				mainlog.WithError(err).Error("Could not re-open logs")
			}
		} else if sig == syscall.SIGTERM || sig == syscall.SIGQUIT || sig == syscall.SIGINT {
			mainlog.Infof("Shutdown signal caught")
			go func() {
				// exit if graceful shutdown not finished in 60 sec.
				<-time.After(time.Second * 60)
				mainlog.Error("graceful shutdown timed out")
				os.Exit(1)
			}()
			d.Shutdown()
			mainlog.Infof("Shutdown completed, exiting.")
			return
		} else {
			mainlog.Infof("Shutdown, unknown signal caught")
			return
		}
	}
}

func serve(cmd *cobra.Command, args []string) {
	logVersion()
	d = robin.Daemon{Logger: mainlog}
	ac, err := readConfig(configPath, pidFile, args)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while reading config")
	}
	d.SetConfig(*ac)

	err = d.Start()
	if err != nil {
		mainlog.WithError(err).Error("Error(s) when starting server(s)")
		os.Exit(1)
	}
	sigHandler()
}

// readConfig is called at startup, or when a SIGHUP is caught
func readConfig(path string, pidFile string, args []string) (*robin.AppConfig, error) {
	// Note here is the only place we can make an exception to the
	// "treat config values as immutable" rule: command line flags
	// and positional host/port override config values
	ac := &robin.AppConfig{}
	if _, err := os.Stat(path); err == nil {
		loaded, err := d.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		ac = &loaded
	}
	// positional host and port select the listen interface, the way
	// the original CLI did
	if len(args) == 2 {
		iface := net.JoinHostPort(args[0], args[1])
		if len(ac.Servers) == 0 {
			ac.Servers = append(ac.Servers, robin.ServerConfig{
				IsEnabled:       true,
				ListenInterface: iface,
			})
		} else {
			ac.Servers[0].ListenInterface = iface
		}
	} else if len(args) == 1 {
		return nil, fmt.Errorf("both host and port are required, got only %q", args[0])
	}
	// override config pidFile with the flag from the command line
	if len(pidFile) > 0 {
		ac.PidFile = pidFile
	} else if len(ac.PidFile) == 0 {
		ac.PidFile = defaultPidFile
	}
	if verbose {
		ac.LogLevel = "debug"
	}
	return ac, nil
}
