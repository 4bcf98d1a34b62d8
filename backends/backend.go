// Package backends implements the archive pipeline. Accepted cips are
// handed to a gateway which distributes them to worker goroutines, each
// running a configurable chain of processors (debugger, redis, sql).
// The pipeline is write-only: reads are always served from the server's
// in-memory log, never from here.
package backends

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robinmsg/robin/cip"
)

var (
	// processors is a map of registered processor constructors,
	// populated by the init() of each p_*.go file
	processors map[string]ProcessorConstructor

	b Backend
)

func init() {
	processors = make(map[string]ProcessorConstructor)
}

// Backend archives published cips. Depending on the processor chain it
// can log them, keep them in redis, insert them into a sql table, etc.
type Backend interface {
	// Process archives a cip
	Process(*cip.Cip) Result
	// Initialize loads the config and prepares the processors
	Initialize(BackendConfig) error
	// Start begins accepting cips for processing
	Start() error
	// Reinitialize initializes the backend again, after it was shutdown
	Reinitialize() error
	// Shutdown frees resources and stops the workers
	Shutdown() error
}

// BackendConfig holds the "backend_config" values from the main config
// file, already unmarshalled.
type BackendConfig map[string]interface{}

// ProcessorConstructor creates a decorator for the processor chain
type ProcessorConstructor func() Decorator

// All processor config structs extend from this
type baseConfig interface{}

// Result represents the outcome of archiving a single cip. The String
// method returns a status line in the reply convention used on the
// wire: a signed decimal code followed by text, eg. "0 archived".
type Result interface {
	fmt.Stringer
	// Code returns the status code parsed from the first field,
	// negative meaning failure
	Code() int
}

type result string

func (r result) String() string {
	return string(r)
}

// Code parses the leading signed decimal of the result string.
// Returns -1 if it cannot be parsed.
func (r result) Code() int {
	fields := strings.Fields(string(r))
	if len(fields) == 0 {
		return -1
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1
	}
	return code
}

func NewResult(message string) Result {
	return result(message)
}
