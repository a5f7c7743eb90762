package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/siryo169/Genesis/pipeline"
)

// fakeTransport is a scriptable push channel for manager tests.
type fakeTransport struct {
	mu        sync.Mutex
	openErr   error
	onPayload func([]byte)
	onDown    func(error)
	opened    bool
	closed    bool
}

func (f *fakeTransport) Open(_ context.Context, onPayload func([]byte), onDown func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	f.onPayload = onPayload
	f.onDown = onDown
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) push(payload []byte) {
	f.mu.Lock()
	fn := f.onPayload
	f.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	fn := f.onDown
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMockModeStartAndSubscribeReplay(t *testing.T) {
	m := NewManager(Options{MockEntries: 4, MockSeed: 1, MockInterval: time.Hour})
	defer m.Close()

	if got := m.CurrentMode(); got != ModeMock {
		t.Fatalf("CurrentMode = %s, want %s", got, ModeMock)
	}
	m.Start()

	if len(m.Snapshot()) != 4 {
		t.Fatalf("snapshot length = %d, want 4", len(m.Snapshot()))
	}

	// A subscriber registered after Start still gets the current snapshot
	// replayed straight away.
	got := make(chan pipeline.Snapshot, 1)
	unsub := m.Subscribe(func(s pipeline.Snapshot) {
		select {
		case got <- s:
		default:
		}
	}, nil)
	defer unsub()

	select {
	case s := <-got:
		if len(s) != 4 {
			t.Fatalf("replayed snapshot length = %d, want 4", len(s))
		}
	case <-time.After(time.Second):
		t.Fatal("no replay on subscribe")
	}
}

func TestMockForceRefreshAdvances(t *testing.T) {
	m := NewManager(Options{MockEntries: 3, MockSeed: 7, MockInterval: time.Hour})
	defer m.Close()
	m.Start()

	before := m.Snapshot()
	if err := m.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	after := m.Snapshot()

	// All entries start enqueued; one advance moves them to running.
	if n := before.CountByStatus()[pipeline.StatusRunning]; n != 0 {
		t.Fatalf("fresh mock snapshot has %d running entries, want 0", n)
	}
	if n := after.CountByStatus()[pipeline.StatusRunning]; n != 3 {
		t.Fatalf("after refresh, running = %d, want 3", n)
	}
}

func TestSwitchModeSameModeIsNoOp(t *testing.T) {
	m := NewManager(Options{MockEntries: 2, MockSeed: 3, MockInterval: time.Hour})
	defer m.Close()
	m.Start()

	snap := m.Snapshot()
	if err := m.SwitchMode(ModeMock); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	if len(m.Snapshot()) != len(snap) {
		t.Fatal("no-op switch replaced the snapshot")
	}
	if m.ConnectionState() != StateIdle {
		t.Fatalf("state = %s, want idle", m.ConnectionState())
	}
}

func TestSwitchModeRejectsUnknown(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()
	if err := m.SwitchMode(Mode("turbo")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSwitchModePersistsPreference(t *testing.T) {
	prefs := filepath.Join(t.TempDir(), "prefs.yml")
	m := NewManager(Options{PrefsPath: prefs, MockInterval: time.Hour, Puller: NewPuller("http://127.0.0.1:1/status", time.Second)})
	defer m.Close()

	if err := m.SwitchMode(ModeLive); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	if got := LoadMode(prefs, ModeMock); got != ModeLive {
		t.Fatalf("persisted mode = %s, want %s", got, ModeLive)
	}

	m2 := NewManager(Options{PrefsPath: prefs})
	defer m2.Close()
	if got := m2.CurrentMode(); got != ModeLive {
		t.Fatalf("restored mode = %s, want %s", got, ModeLive)
	}
}

func TestLivePushUpdatesSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(Options{
		InitialMode:    ModeLive,
		Transport:      func() Transport { return ft },
		Puller:         NewPuller("http://127.0.0.1:1/status", time.Second),
		PollInterval:   time.Hour,
		ReconnectDelay: time.Hour,
	})
	defer m.Close()
	m.Start()

	waitFor(t, "connected state", func() bool { return m.ConnectionState() == StateConnected })

	ft.push([]byte(`[{"id":"r1","filename":"a.csv","status":"running","insertion_date":"2026-08-30T10:00:00"}]`))
	waitFor(t, "snapshot applied", func() bool { return len(m.Snapshot()) == 1 })

	e := m.Snapshot()[0]
	if e.ID != "r1" || e.Status != pipeline.StatusRunning {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.InsertionDate.Location() != time.UTC {
		t.Fatal("naive timestamp should land in UTC")
	}
}

func TestLiveDropFallsBackToPollingThenReconnects(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Write([]byte(`[{"id":"p1","filename":"b.csv","status":"ok","insertion_date":"2026-08-30T09:00:00"}]`))
	}))
	defer srv.Close()

	ft := &fakeTransport{}
	m := NewManager(Options{
		InitialMode:    ModeLive,
		Transport:      func() Transport { return ft },
		Puller:         NewPuller(srv.URL, time.Second),
		PollInterval:   time.Hour,
		ReconnectDelay: 30 * time.Millisecond,
	})
	defer m.Close()

	var errSeen error
	var errMu sync.Mutex
	m.Subscribe(nil, func(err error) {
		errMu.Lock()
		errSeen = err
		errMu.Unlock()
	})

	m.Start()
	waitFor(t, "connected state", func() bool { return m.ConnectionState() == StateConnected })

	ft.drop(&ConnError{Op: "read", Err: errors.New("peer reset")})
	waitFor(t, "degraded-polling state", func() bool { return m.ConnectionState() == StateDegradedPolling })

	// The poll loop fires one pull immediately on fallback.
	waitFor(t, "fallback snapshot", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].ID == "p1"
	})

	errMu.Lock()
	var ce *ConnError
	if !errors.As(errSeen, &ce) {
		t.Fatalf("error listener saw %T, want *ConnError", errSeen)
	}
	errMu.Unlock()

	// The fixed-delay reconnect brings the push channel back.
	waitFor(t, "reconnected state", func() bool { return m.ConnectionState() == StateConnected })
}

func TestParseErrorRetainsSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(Options{
		InitialMode:    ModeLive,
		Transport:      func() Transport { return ft },
		Puller:         NewPuller("http://127.0.0.1:1/status", time.Second),
		PollInterval:   time.Hour,
		ReconnectDelay: time.Hour,
	})
	defer m.Close()

	errs := make(chan error, 4)
	m.Subscribe(nil, func(err error) { errs <- err })

	m.Start()
	waitFor(t, "connected state", func() bool { return m.ConnectionState() == StateConnected })

	ft.push([]byte(`[{"id":"r1","filename":"a.csv","status":"ok","insertion_date":"2026-08-30T08:00:00"}]`))
	waitFor(t, "good snapshot", func() bool { return len(m.Snapshot()) == 1 })

	ft.push([]byte(`{not json`))
	// The failing initial pull also reports a FetchError; wait for the parse
	// error specifically.
	deadline := time.After(time.Second)
	seen := false
	for !seen {
		select {
		case err := <-errs:
			var pe *ParseError
			seen = errors.As(err, &pe)
		case <-deadline:
			t.Fatal("no parse error delivered")
		}
	}

	if len(m.Snapshot()) != 1 || m.Snapshot()[0].ID != "r1" {
		t.Fatal("snapshot should be retained after a parse error")
	}
	if m.ConnectionState() != StateConnected {
		t.Fatal("parse error must not change connection state")
	}
}

func TestStalePullGenerationDiscarded(t *testing.T) {
	m := NewManager(Options{MockInterval: time.Hour})
	defer m.Close()

	fresh := []byte(`[{"id":"new","filename":"n.csv","status":"ok","insertion_date":"2026-08-30T10:00:00"}]`)
	stale := []byte(`[{"id":"old","filename":"o.csv","status":"ok","insertion_date":"2026-08-30T09:00:00"}]`)

	// Generation 2 lands first; the slower generation 1 response must be
	// discarded instead of overwriting it.
	if err := m.applyPayload(0, 2, fresh); err != nil {
		t.Fatalf("apply gen 2: %v", err)
	}
	if err := m.applyPayload(0, 1, stale); err != nil {
		t.Fatalf("apply gen 1: %v", err)
	}

	s := m.Snapshot()
	if len(s) != 1 || s[0].ID != "new" {
		t.Fatalf("stale pull overwrote fresh data: %+v", s)
	}
}

func TestDuplicatePayloadSkipped(t *testing.T) {
	m := NewManager(Options{MockInterval: time.Hour})
	defer m.Close()

	var dispatches int
	var mu sync.Mutex
	m.Subscribe(func(pipeline.Snapshot) {
		mu.Lock()
		dispatches++
		mu.Unlock()
	}, nil)

	payload := []byte(`[{"id":"d1","filename":"d.csv","status":"ok","insertion_date":"2026-08-30T10:00:00"}]`)
	m.applyPayload(0, 0, payload)
	m.applyPayload(0, 0, payload)

	mu.Lock()
	defer mu.Unlock()
	// One replay on subscribe plus one real update; the identical repeat is
	// hash-skipped.
	if dispatches != 2 {
		t.Fatalf("dispatches = %d, want 2", dispatches)
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	m := NewManager(Options{MockEntries: 2, MockSeed: 5, MockInterval: time.Hour})
	defer m.Close()
	m.Start()

	m.Subscribe(func(pipeline.Snapshot) { panic("listener bug") }, nil)

	got := make(chan int, 4)
	m.Subscribe(func(s pipeline.Snapshot) {
		select {
		case got <- len(s):
		default:
		}
	}, nil)
	<-got // replay

	if err := m.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("healthy listener starved by a panicking one")
	}
}

func TestSubscribeFromWithinCallback(t *testing.T) {
	m := NewManager(Options{MockEntries: 2, MockSeed: 13, MockInterval: time.Hour})
	defer m.Close()
	m.Start()

	// Subscribing from inside a data callback must complete and replay the
	// current snapshot to the nested subscriber, not wait on the dispatch
	// that is delivering to the outer one.
	nested := make(chan int, 1)
	registered := make(chan struct{})
	var once sync.Once
	m.Subscribe(func(pipeline.Snapshot) {
		once.Do(func() {
			m.Subscribe(func(inner pipeline.Snapshot) {
				select {
				case nested <- len(inner):
				default:
				}
			}, nil)
			close(registered)
		})
	}, nil)

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("nested Subscribe did not return")
	}
	select {
	case n := <-nested:
		if n != 2 {
			t.Fatalf("nested replay length = %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("nested subscriber got no replay")
	}

	// The manager must still be fully operational afterwards.
	if err := m.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh after nested subscribe: %v", err)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	m := NewManager(Options{MockInterval: time.Hour})
	defer m.Close()

	unsub := m.Subscribe(func(pipeline.Snapshot) {}, nil)
	unsub()
	unsub() // must not panic or remove someone else

	var n int
	var mu sync.Mutex
	m.Subscribe(func(pipeline.Snapshot) {
		mu.Lock()
		n++
		mu.Unlock()
	}, nil)

	m.applyPayload(0, 0, []byte(`[{"id":"u1","filename":"u.csv","status":"ok","insertion_date":"2026-08-30T10:00:00"}]`))
	mu.Lock()
	defer mu.Unlock()
	if n != 2 { // replay + update
		t.Fatalf("dispatches = %d, want 2", n)
	}
}

func TestCloseIsIdempotentAndStopsDispatch(t *testing.T) {
	m := NewManager(Options{MockEntries: 2, MockSeed: 9, MockInterval: 10 * time.Millisecond})
	m.Start()
	m.Close()
	m.Close()

	snap := m.Snapshot()
	time.Sleep(50 * time.Millisecond)
	if len(m.Snapshot()) != len(snap) {
		t.Fatal("snapshot changed after Close")
	}
	if m.ConnectionState() != StateIdle {
		t.Fatalf("state = %s, want idle after Close", m.ConnectionState())
	}
}

func TestSwitchToMockTearsDownLive(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(Options{
		InitialMode:    ModeLive,
		Transport:      func() Transport { return ft },
		Puller:         NewPuller("http://127.0.0.1:1/status", time.Second),
		PollInterval:   time.Hour,
		ReconnectDelay: time.Hour,
		MockEntries:    3,
		MockSeed:       11,
		MockInterval:   time.Hour,
	})
	defer m.Close()
	m.Start()
	waitFor(t, "connected state", func() bool { return m.ConnectionState() == StateConnected })

	if err := m.SwitchMode(ModeMock); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	waitFor(t, "transport closed", func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.closed
	})
	if m.ConnectionState() != StateIdle {
		t.Fatalf("state = %s, want idle in mock mode", m.ConnectionState())
	}
	if len(m.Snapshot()) != 3 {
		t.Fatalf("mock snapshot length = %d, want 3", len(m.Snapshot()))
	}

	// A drop from the abandoned transport must be ignored: its epoch is stale.
	ft.drop(errors.New("late failure"))
	time.Sleep(20 * time.Millisecond)
	if m.ConnectionState() != StateIdle {
		t.Fatal("stale transport callback changed state")
	}
}
