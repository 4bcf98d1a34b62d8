package metrics

// Noop is a Collector that discards everything. It is the default when
// no metrics listener is configured.
type Noop struct{}

var _ Collector = Noop{}

func (Noop) ConnectionOpened() {}

func (Noop) ConnectionClosed() {}

func (Noop) AuthAttempt(bool) {}

func (Noop) CommandProcessed(string) {}

func (Noop) CipPublished(int) {}

func (Noop) OversizedCommand() {}
