// Package duration provides canonical time constants for the entire codebase.
// Reference these instead of hardcoding time.Duration literals so that feed
// cadences, sweeps, and shutdown budgets stay consistent across packages.
package duration

import "time"

// Feed publish intervals, one per demo topic.
const (
	// FeedScanner is the scanner feed cadence (3s)
	FeedScanner = 3 * time.Second

	// FeedEvents is the security-events feed cadence (2s)
	FeedEvents = 2 * time.Second

	// FeedSimulation is the attack-simulation feed cadence (4s)
	FeedSimulation = 4 * time.Second

	// FeedBytecode is the bytecode-similarity feed cadence (5s)
	FeedBytecode = 5 * time.Second

	// FeedBridge is the bridge-monitor feed cadence (6s)
	FeedBridge = 6 * time.Second
)

// Pipeline timing.
const (
	// StageDelay is the simulated work interval between pipeline stages (800ms)
	StageDelay = 800 * time.Millisecond
)

// Connection housekeeping.
const (
	// HeartbeatTimeout is how long a connection may go without a heartbeat
	// before the janitor evicts it (90s)
	HeartbeatTimeout = 90 * time.Second

	// JanitorInterval is the idle-connection sweep cadence (15s)
	JanitorInterval = 15 * time.Second
)

// Server timeouts.
const (
	// HTTPRead is the API server read timeout (5s)
	HTTPRead = 5 * time.Second

	// HTTPWrite is the API server write timeout (10s)
	HTTPWrite = 10 * time.Second

	// Shutdown is the graceful shutdown budget for servers and feeds (5s)
	Shutdown = 5 * time.Second

	// OTLPConnect is the timeout for establishing the trace exporter
	// connection (10s)
	OTLPConnect = 10 * time.Second
)
