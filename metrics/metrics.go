// Package metrics defines the Collector interface the server records
// through, with a prometheus-backed implementation and a no-op default.
package metrics

// Collector records server events. Implementations must be safe for
// concurrent use.
type Collector interface {
	// connection lifecycle
	ConnectionOpened()
	ConnectionClosed()

	// AuthAttempt records a login attempt and its outcome.
	AuthAttempt(success bool)

	// CommandProcessed records one dispatched command by name.
	CommandProcessed(command string)

	// CipPublished records an accepted cip and its size in bytes.
	CipPublished(sizeBytes int)

	// OversizedCommand records a rejected oversized command frame.
	OversizedCommand()
}
