package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"github.com/rockbite/localforge/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTTL           = 30 * time.Minute
	defaultSweepSchedule = "@every 1m"
	defaultSaveDebounce  = 25 * time.Millisecond
	saveTimeout          = 30 * time.Second
)

// Config configures a Manager.
type Config struct {
	Store         Store
	TTL           time.Duration
	SweepSchedule string
	// SaveDebounce is how long a started write waits before snapshotting,
	// so that callers arriving in the window share it.
	SaveDebounce time.Duration
	Prices       PriceTable
	Logger       *zerolog.Logger
}

// CreateOptions are the initial attributes of a new session.
type CreateOptions struct {
	WorkingDirectory string
	AgentID          string
}

// Manager caches sessions in memory and serializes their durable writes.
type Manager struct {
	store    Store
	ttl      time.Duration
	schedule string
	debounce time.Duration
	prices   PriceTable
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	eventMu  sync.RWMutex
	handlers map[EventType][]EventHandler

	sweepMu sync.Mutex
	sweeper *cron.Cron
}

type entry struct {
	mu          sync.Mutex
	session     *Session
	lastAccess  time.Time
	interrupted bool
	ephemeral   bool

	// gen counts mutations; savedGen is the gen of the last durable write.
	gen      uint64
	savedGen uint64
	saving   *saveOp
	next     *saveOp
}

type saveOp struct {
	done        chan struct{}
	err         error
	snapshotted bool
	gen         uint64
}

func newSaveOp() *saveOp {
	return &saveOp{done: make(chan struct{})}
}

// MutationOption adjusts a single mutation.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	deferSave bool
}

// WithDeferSave applies the mutation in memory only. A later SaveSession
// persists it.
func WithDeferSave() MutationOption {
	return func(o *mutationOptions) {
		o.deferSave = true
	}
}

// NewManager creates a Manager. A nil Store keeps sessions in memory.
func NewManager(cfg Config) *Manager {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweepSchedule
	}
	if cfg.SaveDebounce < 0 {
		cfg.SaveDebounce = 0
	} else if cfg.SaveDebounce == 0 {
		cfg.SaveDebounce = defaultSaveDebounce
	}
	if cfg.Prices == nil {
		cfg.Prices = DefaultPrices
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		schedule: cfg.SweepSchedule,
		debounce: cfg.SaveDebounce,
		prices:   cfg.Prices,
		logger:   logger.With().Str("component", "session.manager").Logger(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		handlers: make(map[EventType][]EventHandler),
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// cached returns the cached entry for id and refreshes its access time.
func (m *Manager) cached(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[id]
	if e != nil {
		e.mu.Lock()
		e.lastAccess = m.now()
		e.mu.Unlock()
	}
	return e
}

// load returns the cached entry, loading and normalizing it from the store
// on a miss.
func (m *Manager) load(ctx context.Context, id string) (*entry, error) {
	if e := m.cached(id); e != nil {
		return e, nil
	}
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	sess, migrated, err := Normalize(id, raw)
	if err != nil {
		return nil, err
	}
	observability.RecordSessionLoad(time.Since(start), migrated)
	if migrated {
		m.logger.Info().Str("sessionId", id).Bool("migrated", true).Msg("Normalized legacy session record")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.entries[id]; existing != nil {
		return existing, nil
	}
	e := &entry{session: sess, lastAccess: m.now()}
	if migrated {
		// Dirty, so the canonical form is written on the next save.
		e.gen = 1
	}
	m.entries[id] = e
	observability.SetCachedSessions(len(m.entries))
	return e, nil
}

// GetSession returns a deep copy of the session.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	e, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// CreateSession creates and persists a new session.
func (m *Manager) CreateSession(ctx context.Context, id string, opts CreateOptions) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	if e := m.cached(id); e != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if _, err := m.store.Load(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check session %s: %w", id, err)
	}

	sess := newSession(id, opts, m.now())
	e := &entry{session: sess, lastAccess: m.now(), gen: 1}

	m.mu.Lock()
	if m.entries[id] != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	m.entries[id] = e
	observability.SetCachedSessions(len(m.entries))
	m.mu.Unlock()

	m.logger.Info().Str("sessionId", id).Str("workingDirectory", opts.WorkingDirectory).Msg("Session created")
	if err := m.SaveSession(ctx, id); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// EnsureSession returns the session, creating it when it does not exist.
func (m *Manager) EnsureSession(ctx context.Context, id string, opts CreateOptions) (*Session, error) {
	sess, err := m.GetSession(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	sess, err = m.CreateSession(ctx, id, opts)
	if errors.Is(err, ErrSessionExists) {
		return m.GetSession(ctx, id)
	}
	return sess, err
}

// CreateEphemeral caches a session that is never persisted. Callers must
// Discard it when done.
func (m *Manager) CreateEphemeral(id string, opts CreateOptions) *Session {
	sess := newSession(id, opts, m.now())

	m.mu.Lock()
	m.entries[id] = &entry{session: sess, lastAccess: m.now(), ephemeral: true}
	observability.SetCachedSessions(len(m.entries))
	m.mu.Unlock()

	return sess.Clone()
}

// Discard drops a session from the cache without saving it.
func (m *Manager) Discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	observability.SetCachedSessions(len(m.entries))
}

// CachedIDs lists the ids currently held in memory.
func (m *Manager) CachedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListStored lists the ids known to the durable store.
func (m *Manager) ListStored(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// mutate applies fn to the cached session under its lock, then saves
// unless deferred. Events returned by fn are emitted after the lock is
// released.
func (m *Manager) mutate(ctx context.Context, id string, opts []MutationOption, fn func(e *entry) ([]Event, error)) error {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}

	e, err := m.load(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	events, err := fn(e)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	now := m.now()
	e.session.UpdatedAt = now
	e.lastAccess = now
	e.gen++
	e.mu.Unlock()

	for _, ev := range events {
		ev.SessionID = id
		m.emit(ev)
	}

	if o.deferSave {
		return nil
	}
	return m.SaveSession(ctx, id)
}

// SaveSession persists the cached session. At most one write per session
// is in flight: callers that arrive before its snapshot share it, and
// callers holding newer state share the single follow-up write. A clean
// session is not rewritten.
func (m *Manager) SaveSession(ctx context.Context, id string) error {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return notFound(id)
	}

	e.mu.Lock()
	if e.ephemeral || (e.saving == nil && e.gen == e.savedGen) {
		e.mu.Unlock()
		return nil
	}
	op, start := e.joinSave()
	e.mu.Unlock()

	if start {
		go m.runSave(id, e, op)
	} else {
		observability.RecordSessionSaveCoalesced()
	}

	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// joinSave picks the write that will cover the entry's current state.
// The caller holds e.mu.
func (e *entry) joinSave() (*saveOp, bool) {
	cur := e.saving
	if cur == nil {
		e.saving = newSaveOp()
		return e.saving, true
	}
	if !cur.snapshotted || cur.gen >= e.gen {
		return cur, false
	}
	if e.next == nil {
		e.next = newSaveOp()
	}
	return e.next, false
}

func (m *Manager) runSave(id string, e *entry, op *saveOp) {
	for op != nil {
		if m.debounce > 0 {
			time.Sleep(m.debounce)
		}

		e.mu.Lock()
		data, err := json.Marshal(e.session)
		op.snapshotted = true
		op.gen = e.gen
		e.mu.Unlock()

		start := time.Now()
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			err = m.store.Save(ctx, id, data)
			cancel()
		}
		observability.RecordSessionSave(time.Since(start), err)
		if err != nil {
			m.logger.Error().Err(err).Str("sessionId", id).Msg("Failed to save session")
			err = fmt.Errorf("failed to save session %s: %w", id, err)
		}

		e.mu.Lock()
		op.err = err
		if err == nil && op.gen > e.savedGen {
			e.savedGen = op.gen
		}
		close(op.done)
		op = e.next
		e.next = nil
		e.saving = op
		e.mu.Unlock()
	}
}

// Close stops the sweeper and flushes every session with unsaved changes.
func (m *Manager) Close(ctx context.Context) error {
	m.StopSweeper()

	var result *multierror.Error
	for _, id := range m.CachedIDs() {
		if err := m.SaveSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
