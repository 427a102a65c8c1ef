package irmd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"irmd-go/directory"
	ferrors "irmd-go/errors"
	"irmd-go/logging"
	"irmd-go/notifier"
)

// Tunables, overridable via the irmd binary's flags (see cmd/irmd).
const (
	// DefaultAddThreads is IRMD_ADD_THREADS: the worker pool's starting
	// size, and how many workers it grows by when the command queue is
	// more than half full.
	DefaultAddThreads = 4
	// DefaultCleanupTimer is IRMD_CLEANUP_TIMER: the sanitiser's period.
	DefaultCleanupTimer = 2 * time.Second
	// DefaultFlowTimeout is IRMD_FLOW_TIMEOUT: how long an alloc-pending
	// flow may sit before the sanitiser ages it into dealloc-pending.
	DefaultFlowTimeout = 10 * time.Second
	// DefaultSocketTimeout bounds create_ipcp's wait for the child's
	// ready report on its sync pipe.
	DefaultSocketTimeout = 5 * time.Second
	// DefaultMaxFlows sizes the process-wide port-id bitmap.
	DefaultMaxFlows = 8192
)

// daemonState is IRMd's own lifecycle, distinct from any IPCP's state.
type daemonState int

const (
	stateRunning daemonState = iota
	stateShuttingDown
)

// Daemon is the IRM daemon: registry, flow broker, and control loop.
//
// Lock ordering is state -> reg -> flows, enforced by acquisition order
// in every method below; it is never reversed. The timer wheel used by
// normal IPCPs is a separate process's leaf lock and has no relationship
// to these three.
type Daemon struct {
	stateMu sync.RWMutex
	state   daemonState

	regMu      sync.Mutex
	ipcps      map[int]*IPCPEntry
	programs   map[string]*ProgramEntry
	processes  map[int]*ProcessEntry
	registry   map[string]*RegistryEntry
	hashToName map[string]string // reverse of dir.Hash, for ipcp_flow_req_arr

	flowsMu   sync.Mutex
	flowsCond *sync.Cond
	flows     map[int]*IRMFlow
	ports     *portMap

	acceptMu   sync.Mutex
	acceptCond *sync.Cond
	arrivals   map[int]*arrival // by acceptor pid

	dir    *directory.Directory
	bus    *notifier.Bus
	logger *slog.Logger

	addThreads    int
	cleanupTimer  time.Duration
	flowTimeout   time.Duration
	socketTimeout time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config configures a new Daemon.
type Config struct {
	MaxFlows      int
	AddThreads    int
	CleanupTimer  time.Duration
	FlowTimeout   time.Duration
	SocketTimeout time.Duration
	Algorithm     directory.Algorithm
	Logger        *slog.Logger
}

// New creates a Daemon ready to Run.
func New(cfg Config) *Daemon {
	if cfg.MaxFlows == 0 {
		cfg.MaxFlows = DefaultMaxFlows
	}
	if cfg.AddThreads == 0 {
		cfg.AddThreads = DefaultAddThreads
	}
	if cfg.CleanupTimer == 0 {
		cfg.CleanupTimer = DefaultCleanupTimer
	}
	if cfg.FlowTimeout == 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = DefaultSocketTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	d := &Daemon{
		state:         stateRunning,
		ipcps:         make(map[int]*IPCPEntry),
		programs:      make(map[string]*ProgramEntry),
		processes:     make(map[int]*ProcessEntry),
		registry:      make(map[string]*RegistryEntry),
		hashToName:    make(map[string]string),
		flows:         make(map[int]*IRMFlow),
		ports:         newPortMap(cfg.MaxFlows),
		arrivals:      make(map[int]*arrival),
		dir:           directory.New(cfg.Algorithm),
		bus:           notifier.New(),
		logger:        cfg.Logger,
		addThreads:    cfg.AddThreads,
		cleanupTimer:  cfg.CleanupTimer,
		flowTimeout:   cfg.FlowTimeout,
		socketTimeout: cfg.SocketTimeout,
	}
	d.flowsCond = sync.NewCond(&d.flowsMu)
	d.acceptCond = sync.NewCond(&d.acceptMu)
	return d
}

// isShuttingDown reports whether IRMd has begun shutdown, under
// stateMu — always acquired before any reg/flows lock per the ordering
// rule.
func (d *Daemon) isShuttingDown() bool {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state == stateShuttingDown
}

// Run starts the sanitiser, blocking until ctx is cancelled or Shutdown
// is called. The control socket is served separately by Server.Serve.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sanitizeLoop(ctx)
	}()

	<-ctx.Done()
	d.Shutdown()
	d.wg.Wait()
	return nil
}

// Shutdown marks the daemon as shutting down, waking any waiters blocked
// in flow_accept/flow_alloc so they observe ErrShuttingDown
// rather than hanging past process exit.
func (d *Daemon) Shutdown() {
	d.stateMu.Lock()
	d.state = stateShuttingDown
	d.stateMu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	d.acceptMu.Lock()
	d.acceptCond.Broadcast()
	d.acceptMu.Unlock()

	d.flowsMu.Lock()
	d.flowsCond.Broadcast()
	d.flowsMu.Unlock()

	d.bus.Publish(notifier.EventIPCPDied, nil)
}

// requireRunning returns ErrShuttingDown if the daemon is tearing down,
// for use at the top of any blocking operation.
func (d *Daemon) requireRunning() error {
	if d.isShuttingDown() {
		return ferrors.ErrShuttingDown
	}
	return nil
}
