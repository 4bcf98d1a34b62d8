package backends

import (
	"github.com/robinmsg/robin/cip"
)

func init() {
	// ----------------------------------------------------------------------------------
	// Processor Name: debugger
	// ----------------------------------------------------------------------------------
	// Description   : Log published cips
	// ----------------------------------------------------------------------------------
	// Config Options: log_published_cips bool - log if true
	// --------------:-------------------------------------------------------------------
	// Input         : c.Author, c.TS, c.Text
	// ----------------------------------------------------------------------------------
	// Output        : none (only output to the log if enabled)
	// ----------------------------------------------------------------------------------
	processors["debugger"] = func() Decorator {
		return Debugger()
	}
}

type debuggerConfig struct {
	LogPublishedCips bool `json:"log_published_cips,omitempty"`
}

func Debugger() Decorator {
	var config *debuggerConfig
	initFunc := InitializeWith(func(backendConfig BackendConfig) error {
		configType := baseConfig(&debuggerConfig{})
		bcfg, err := Svc.ExtractConfig(backendConfig, configType)
		if err != nil {
			return err
		}
		config = bcfg.(*debuggerConfig)
		return nil
	})
	Svc.AddInitializer(initFunc)
	return func(p Processor) Processor {
		return ProcessorFunc(func(c *cip.Cip) (Result, error) {
			if config.LogPublishedCips {
				Log().Infof("cip from: %s ts: %d tags: %v", c.Author, c.TS, c.Hashtags())
				Log().Info("text is: ", c.Text)
			}
			// continue to the next Processor in the decorator chain
			return p.Process(c)
		})
	}
}
