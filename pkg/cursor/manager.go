package cursor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/finder"
	"github.com/unijord/timeseek/pkg/ledger"
)

type ManagerOption func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now for message expiry and cursor timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager opens cursors by name and keeps one instance per name.
type Manager struct {
	ledger *ledger.Ledger
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cursors map[string]*Cursor
}

func NewManager(l *ledger.Ledger, opts ...ManagerOption) *Manager {
	m := &Manager{
		ledger:  l,
		logger:  slog.Default(),
		now:     time.Now,
		cursors: make(map[string]*Cursor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the cursor called name, creating it at the start of the log
// when it does not exist. An empty name creates a cursor with a random name.
func (m *Manager) Open(name string) (*Cursor, error) {
	if name == "" {
		name = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.cursors[name]; ok {
		return c, nil
	}

	c := &Cursor{
		name:   name,
		ledger: m.ledger,
		finder: finder.New(name, m.ledger, finder.WithLogger(m.logger)),
		logger: m.logger.With("component", "cursor", "cursor", name),
		now:    m.now,
	}

	state, err := m.ledger.Store().LoadCursor(name)
	switch {
	case err == nil:
		c.markDelete = state.MarkDelete
		c.readPosition = m.ledger.Next(state.MarkDelete)
	case errors.Is(err, catalog.ErrCursorNotFound):
		c.markDelete, c.readPosition = c.startLocked()
		if err := c.persist(c.markDelete); err != nil {
			return nil, err
		}
		c.logger.Info("cursor created", "mark_delete", c.markDelete.String())
	default:
		return nil, fmt.Errorf("load cursor %s: %w", name, err)
	}

	m.cursors[name] = c
	return c, nil
}

// Get returns an already opened cursor.
func (m *Manager) Get(name string) (*Cursor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[name]
	return c, ok
}

// List returns the persisted state of every cursor, opened or not.
func (m *Manager) List() ([]catalog.CursorState, error) {
	return m.ledger.Store().Cursors()
}

// Delete forgets a cursor and its persisted state.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.Store().DeleteCursor(name); err != nil {
		return fmt.Errorf("delete cursor %s: %w", name, err)
	}
	delete(m.cursors, name)
	return nil
}
