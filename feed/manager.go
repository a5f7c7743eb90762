// Package feed keeps the dashboard's snapshot of pipeline runs synchronized
// with the backend. The manager owns the current snapshot, the data-source
// mode (synthetic or live), and the live connection lifecycle: a push channel
// with fallback polling and fixed-delay reconnects. Consumers subscribe for
// snapshot replacements and errors; they never pull state out of the manager
// mid-update.
package feed

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/siryo169/Genesis/pipeline"
	"github.com/siryo169/Genesis/stats"
)

// Mode selects where snapshots come from.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// ConnState is the live-mode connection state machine:
//
//	connecting -> connected -> degraded-polling -> connecting -> ...
//
// Idle is the rest state outside live mode.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDegradedPolling
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegradedPolling:
		return "degraded-polling"
	default:
		return "idle"
	}
}

// validTransitions enumerates the allowed state changes. A connect attempt
// that fails moves connecting back to degraded-polling; teardown returns any
// state to idle.
var validTransitions = map[ConnState]map[ConnState]bool{
	StateIdle:            {StateConnecting: true},
	StateConnecting:      {StateConnected: true, StateDegradedPolling: true, StateIdle: true},
	StateConnected:       {StateDegradedPolling: true, StateIdle: true},
	StateDegradedPolling: {StateConnecting: true, StateIdle: true},
}

// DataListener receives each snapshot replacement. The slice is shared:
// treat it as read-only.
type DataListener func(pipeline.Snapshot)

// ErrorListener receives non-fatal feed errors (ConnError, ParseError,
// FetchError).
type ErrorListener func(error)

// subscriber carries one listener pair plus its own dispatch lock. Delivery
// is serialized per subscriber rather than manager-wide, so calling Subscribe
// from inside another listener's callback can never deadlock on a dispatch in
// progress.
type subscriber struct {
	mu     sync.Mutex
	onData DataListener
	onErr  ErrorListener
}

// Options configures a Manager. Zero durations get defaults.
type Options struct {
	// Transport builds the push channel for live mode. Nil means live mode
	// runs on polling alone.
	Transport TransportFactory
	// Puller serves the initial live fetch, fallback polling, and forced
	// refreshes.
	Puller *Puller

	PollInterval   time.Duration // fallback poll cadence, default 5s
	ReconnectDelay time.Duration // fixed push reconnect delay, default 10s
	MockInterval   time.Duration // mock regeneration cadence, default 2s
	MockEntries    int
	MockSeed       int64

	// PrefsPath persists the selected mode across restarts. Empty disables
	// persistence.
	PrefsPath string
	// InitialMode overrides the persisted preference when non-empty.
	InitialMode Mode

	Stats *stats.Tracker
}

// Manager is the synchronization core. One instance is constructed at startup
// and passed by reference to every consumer; tests build as many independent
// instances as they like.
type Manager struct {
	opts Options

	mu    sync.Mutex
	mode  Mode
	state ConnState
	// epoch increments on every teardown; asynchronous callbacks carry the
	// epoch they were created under and are discarded when it is stale.
	epoch    uint64
	snapshot pipeline.Snapshot
	lastHash uint64
	hasHash  bool

	listeners map[int]*subscriber
	nextSubID int

	// pullSeq/appliedPull implement the generation counter for pulls: a
	// response applies only when no newer response has been applied, so a
	// slow in-flight pull can never overwrite fresher data.
	pullSeq     uint64
	appliedPull uint64

	transport      Transport
	pollStop       chan struct{}
	mockStop       chan struct{}
	reconnectTimer *time.Timer
	mockGen        *MockGenerator
	started        bool
	closed         bool
}

// NewManager builds a manager. The starting mode comes from InitialMode, then
// the preference store, then mock. Call Start to begin producing snapshots.
func NewManager(opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	if opts.MockInterval <= 0 {
		opts.MockInterval = 2 * time.Second
	}

	mode := opts.InitialMode
	if mode != ModeMock && mode != ModeLive {
		mode = LoadMode(opts.PrefsPath, ModeMock)
	}
	return &Manager{
		opts:      opts,
		mode:      mode,
		state:     StateIdle,
		listeners: make(map[int]*subscriber),
	}
}

// Start activates the current mode. Calling Start twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.closed || m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	emit := m.startModeLocked()
	m.mu.Unlock()

	if emit != nil {
		m.dispatchData(emit)
	}
}

// CurrentMode returns the active data-source mode.
func (m *Manager) CurrentMode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// ConnectionState returns the live connection state (idle outside live mode).
func (m *Manager) ConnectionState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current snapshot. The slice is shared; treat it as
// read-only.
func (m *Manager) Snapshot() pipeline.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Subscribe registers listeners and immediately replays the current snapshot
// to onData, before any subsequent update reaches this subscriber. onErr may
// be nil. The returned unsubscribe function is idempotent.
func (m *Manager) Subscribe(onData DataListener, onErr ErrorListener) func() {
	sub := &subscriber{onData: onData, onErr: onErr}
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.listeners[id] = sub
	snap := m.snapshot

	// Take this subscriber's dispatch lock before releasing the state lock:
	// an update that registered after us must wait for the replay to finish,
	// preserving cache-then-update ordering. Only the new subscriber is
	// locked, so subscribing from inside another listener's callback never
	// waits on a dispatch already in progress.
	sub.mu.Lock()
	m.mu.Unlock()
	if onData != nil {
		m.safeData(onData, snap)
	}
	sub.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SwitchMode changes the data source. Switching to the current mode is a
// no-op: no timers or channels are touched and no listeners are dropped.
// Otherwise the old mode's resources are fully released before the new
// mode's are created, and the choice is persisted.
func (m *Manager) SwitchMode(newMode Mode) error {
	if newMode != ModeMock && newMode != ModeLive {
		return &ParseError{Err: errors.New("unknown mode " + string(newMode))}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("feed: manager closed")
	}
	if newMode == m.mode {
		m.mu.Unlock()
		return nil
	}
	old := m.teardownLocked()
	m.mode = newMode
	var emit pipeline.Snapshot
	if m.started {
		emit = m.startModeLocked()
	}
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if emit != nil {
		m.dispatchData(emit)
	}
	m.opts.Stats.IncModeSwitch()
	log.Printf("feed: switched to %s mode", newMode)

	if err := SaveMode(m.opts.PrefsPath, newMode); err != nil {
		log.Printf("feed: persisting mode preference: %v", err)
	}
	return nil
}

// ForceRefresh regenerates the snapshot. In mock mode the regeneration is
// synchronous; in live mode one pull is issued and applied on success. The
// error, if any, is also delivered to error listeners.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("feed: manager closed")
	}
	epoch := m.epoch
	if m.mode == ModeMock {
		gen := m.mockGenLocked()
		m.mu.Unlock()
		m.applyMockSnapshot(epoch, gen.Advance())
		return nil
	}
	m.mu.Unlock()
	return m.pullOnce(ctx, epoch)
}

// Close tears down all timers and channels. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	old := m.teardownLocked()
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// --- mode lifecycle -------------------------------------------------------

// startModeLocked activates the current mode's resources and returns a
// snapshot to dispatch after the lock is released, or nil.
func (m *Manager) startModeLocked() pipeline.Snapshot {
	epoch := m.epoch
	if m.mode == ModeMock {
		gen := m.mockGenLocked()
		snap := gen.Snapshot()
		m.snapshot = snap
		m.hasHash = false
		stop := make(chan struct{})
		m.mockStop = stop
		go m.mockLoop(epoch, gen, stop)
		return snap
	}

	// Live: open the push channel and perform one initial pull, in parallel.
	m.transitionLocked(StateConnecting)
	go m.connect(epoch)
	go func() {
		if err := m.pullOnce(context.Background(), epoch); err != nil {
			log.Printf("feed: initial pull: %v", err)
		}
	}()
	return nil
}

// teardownLocked releases every resource of the current mode and bumps the
// epoch so in-flight callbacks become stale. It is idempotent; the returned
// transport must be closed outside the lock.
func (m *Manager) teardownLocked() Transport {
	m.epoch++
	m.stopPollLocked()
	if m.mockStop != nil {
		close(m.mockStop)
		m.mockStop = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	old := m.transport
	m.transport = nil
	if m.state != StateIdle {
		m.transitionLocked(StateIdle)
	}
	return old
}

func (m *Manager) mockGenLocked() *MockGenerator {
	if m.mockGen == nil {
		m.mockGen = NewMockGenerator(m.opts.MockEntries, m.opts.MockSeed)
	}
	return m.mockGen
}

func (m *Manager) mockLoop(epoch uint64, gen *MockGenerator, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.MockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.applyMockSnapshot(epoch, gen.Advance())
		}
	}
}

func (m *Manager) applyMockSnapshot(epoch uint64, snap pipeline.Snapshot) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.snapshot = snap
	m.hasHash = false
	m.mu.Unlock()

	m.opts.Stats.IncSnapshot()
	m.dispatchData(snap)
}

// --- live connection lifecycle --------------------------------------------

func (m *Manager) transitionLocked(to ConnState) {
	if m.state == to {
		return
	}
	if !validTransitions[m.state][to] {
		log.Printf("feed: invalid state transition %s -> %s", m.state, to)
		return
	}
	m.state = to
}

// connect runs one push-channel attempt. On failure it degrades to polling
// and leaves the retry to the reconnect timer.
func (m *Manager) connect(epoch uint64) {
	if m.opts.Transport == nil {
		m.handleDown(epoch, &ConnError{Op: "open", Err: errors.New("no push transport configured")}, false)
		return
	}

	t := m.opts.Transport()
	err := t.Open(context.Background(),
		func(payload []byte) { m.handlePayload(epoch, payload) },
		func(downErr error) { m.handleDown(epoch, downErr, true) },
	)

	m.mu.Lock()
	if m.closed || epoch != m.epoch || m.mode != ModeLive {
		m.mu.Unlock()
		if err == nil {
			t.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.handleDown(epoch, err, true)
		return
	}
	m.transport = t
	m.transitionLocked(StateConnected)
	// The push channel is live again; fallback polling is no longer needed.
	m.stopPollLocked()
	m.mu.Unlock()

	log.Printf("feed: push channel connected")
}

// handleDown reacts to a push-channel failure: fallback polling starts
// immediately so there is no gap in updates, and a reconnect is scheduled
// after the fixed delay. At most one poll loop and one pending reconnect
// exist at any time.
func (m *Manager) handleDown(epoch uint64, err error, scheduleReconnect bool) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || m.mode != ModeLive {
		m.mu.Unlock()
		return
	}
	if m.transport != nil {
		old := m.transport
		m.transport = nil
		go old.Close()
	}
	m.transitionLocked(StateDegradedPolling)
	m.startPollLocked(epoch)
	if scheduleReconnect && m.reconnectTimer == nil {
		m.reconnectTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
			m.reconnect(epoch)
		})
	}
	m.mu.Unlock()

	m.opts.Stats.IncConnDrop()
	log.Printf("feed: push channel down, polling: %v", err)
	m.deliverError(err)
}

func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || m.mode != ModeLive {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.transitionLocked(StateConnecting)
	m.mu.Unlock()

	m.opts.Stats.IncReconnect()
	log.Printf("feed: attempting push reconnect")
	m.connect(epoch)
}

// startPollLocked starts the fallback poll loop unless one is running.
func (m *Manager) startPollLocked(epoch uint64) {
	if m.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	go m.pollLoop(epoch, stop)
}

func (m *Manager) stopPollLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

// pollLoop pulls immediately, then on the fixed interval. The immediate pull
// guarantees a fallback update lands before the reconnect delay elapses.
func (m *Manager) pollLoop(epoch uint64, stop chan struct{}) {
	m.pollTick(epoch)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pollTick(epoch)
		}
	}
}

func (m *Manager) pollTick(epoch uint64) {
	m.opts.Stats.IncPoll()
	if err := m.pullOnce(context.Background(), epoch); err != nil {
		log.Printf("feed: poll: %v", err)
	}
}

// pullOnce issues a single pull and applies the response under the
// generation counter, so a stale in-flight response never overwrites newer
// data. The error is delivered to error listeners and returned.
func (m *Manager) pullOnce(ctx context.Context, epoch uint64) error {
	if m.opts.Puller == nil {
		return errors.New("feed: no pull endpoint configured")
	}

	m.mu.Lock()
	m.pullSeq++
	gen := m.pullSeq
	m.mu.Unlock()

	payload, err := m.opts.Puller.Fetch(ctx)
	if err != nil {
		m.opts.Stats.IncFetchError()
		m.deliverError(err)
		return err
	}
	return m.applyPayload(epoch, gen, payload)
}

// handlePayload applies one push message. Pushes carry generation 0: they are
// serial on their connection and never race the pull counter.
func (m *Manager) handlePayload(epoch uint64, payload []byte) {
	m.opts.Stats.IncPush()
	if err := m.applyPayload(epoch, 0, payload); err != nil {
		log.Printf("feed: push payload: %v", err)
	}
}

func (m *Manager) applyPayload(epoch uint64, gen uint64, payload []byte) error {
	hash := xxh3.Hash(payload)

	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return nil
	}
	if gen > 0 && gen <= m.appliedPull {
		m.mu.Unlock()
		return nil // a newer pull already landed
	}
	if m.hasHash && hash == m.lastHash {
		if gen > 0 {
			m.appliedPull = gen
		}
		m.mu.Unlock()
		m.opts.Stats.IncDuplicate()
		return nil
	}
	m.mu.Unlock()

	// Decode outside the lock; payloads can be large.
	snap, err := pipeline.DecodeSnapshot(payload)
	if err != nil {
		perr := &ParseError{Err: err}
		m.opts.Stats.IncParseError()
		m.deliverError(perr)
		return perr
	}

	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return nil
	}
	if gen > 0 {
		if gen <= m.appliedPull {
			m.mu.Unlock()
			return nil
		}
		m.appliedPull = gen
	}
	m.snapshot = snap
	m.lastHash = hash
	m.hasHash = true
	m.mu.Unlock()

	m.opts.Stats.IncSnapshot()
	m.dispatchData(snap)
	return nil
}

// --- listener dispatch ----------------------------------------------------

func (m *Manager) subscribers() []*subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*subscriber, 0, len(m.listeners))
	for _, sub := range m.listeners {
		out = append(out, sub)
	}
	return out
}

// dispatchData delivers a snapshot to every data listener. The subscriber set
// is copied first, so unsubscribing from within a callback is safe, and each
// callback is isolated: one panicking listener never starves the rest.
func (m *Manager) dispatchData(snap pipeline.Snapshot) {
	for _, sub := range m.subscribers() {
		sub.mu.Lock()
		if sub.onData != nil {
			m.safeData(sub.onData, snap)
		}
		sub.mu.Unlock()
	}
}

func (m *Manager) deliverError(err error) {
	for _, sub := range m.subscribers() {
		sub.mu.Lock()
		if sub.onErr != nil {
			m.safeErr(sub.onErr, err)
		}
		sub.mu.Unlock()
	}
}

func (m *Manager) safeData(fn DataListener, snap pipeline.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.opts.Stats.IncDroppedDispatch()
			log.Printf("feed: data listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (m *Manager) safeErr(fn ErrorListener, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.opts.Stats.IncDroppedDispatch()
			log.Printf("feed: error listener panic: %v", r)
		}
	}()
	fn(err)
}
