package backends

import (
	"github.com/robinmsg/robin/cip"
)

// Our processor is defined as something that processes a cip and
// returns a result and error
type Processor interface {
	Process(*cip.Cip) (Result, error)
}

// Signature of Process
type ProcessorFunc func(*cip.Cip) (Result, error)

// Make ProcessorFunc satisfy the Processor interface
func (f ProcessorFunc) Process(c *cip.Cip) (Result, error) {
	return f(c)
}

// DefaultProcessor is the undecorated end of the chain, it does nothing
// except report success. Notice it has no knowledge of the decorators
// that wrap it, their concerns are orthogonal.
type DefaultProcessor struct{}

func (w DefaultProcessor) Process(c *cip.Cip) (Result, error) {
	return NewResult("0 archived"), nil
}
