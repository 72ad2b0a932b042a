// Package session owns the live tutoring sessions: one memory store per
// session, loaded from and saved to a state store, with turns serialised per
// session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	memoryx "github.com/tanpawarit/chative-tutor/agent/memory"
	statex "github.com/tanpawarit/chative-tutor/agent/state"
)

type Config struct {
	// IdleTTL is how long an unused session stays in process.
	IdleTTL time.Duration `split_words:"true" default:"30m"`
	// SweepSchedule is a cron spec for dropping idle sessions.
	SweepSchedule string `split_words:"true" default:"@every 5m"`
}

// Session is a live session. It is only touched between Acquire and Release.
type Session struct {
	ID     string
	Memory *memoryx.Store

	sem       chan struct{}
	loaded    bool
	evicted   bool
	createdAt time.Time
	lastUsed  time.Time
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store  statex.Store
	memCfg memoryx.Config
	cfg    Config
	now    func() time.Time

	cron *cron.Cron

	// OnCountChange, when set, receives the number of live sessions.
	OnCountChange func(n int)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store statex.Store, memCfg memoryx.Config, cfg Config, opts ...Option) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		memCfg:   memCfg,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Acquire returns the session with exclusive access, loading it from the
// store on first use. Callers must Release it.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, contractx.ErrInvalidSession
	}

	for {
		s := m.get(sessionID)
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if s.evicted {
			s.release()
			continue
		}
		if !s.loaded {
			if err := m.load(ctx, s); err != nil {
				s.release()
				return nil, err
			}
		}
		s.lastUsed = m.now()
		return s, nil
	}
}

func (s *Session) release() {
	<-s.sem
}

// Release gives up exclusive access.
func (m *Manager) Release(s *Session) {
	if s != nil {
		s.release()
	}
}

func (m *Manager) get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Session{
			ID:     sessionID,
			Memory: memoryx.NewStore(m.memCfg),
			sem:    make(chan struct{}, 1),
		}
		m.sessions[sessionID] = s
		m.notifyLocked()
	}
	return s
}

func (m *Manager) load(ctx context.Context, s *Session) error {
	now := m.now()
	s.createdAt = now
	if m.store == nil {
		s.loaded = true
		return nil
	}

	st, err := m.store.Load(ctx, s.ID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		log.Debug().Str("session_id", s.ID).Msg("new session")
	case err != nil:
		return fmt.Errorf("load session %s: %w", s.ID, err)
	default:
		if err := s.Memory.Restore(st.Memory); err != nil {
			return fmt.Errorf("restore session %s: %w", s.ID, err)
		}
		s.createdAt = st.CreatedAt
		log.Debug().Str("session_id", s.ID).Int("turns", st.TurnCount()).Msg("session restored")
	}
	s.loaded = true
	return nil
}

// Save persists the session memory. The caller must hold the session.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if m.store == nil {
		return nil
	}
	st := statex.NewSessionState(s.ID, s.createdAt)
	st.Memory = s.Memory.Export()
	st.Touch(m.now())
	if err := m.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Reset forgets the session history and persists the empty state.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	s, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer m.Release(s)

	s.Memory.Reset()
	return m.Save(ctx, s)
}

// Len is the number of sessions held in process.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepIdle drops sessions unused for longer than IdleTTL. Busy sessions are
// skipped. State is already in the store, so a dropped session reloads on
// its next message.
func (m *Manager) SweepIdle() int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, s := range m.sessions {
		select {
		case s.sem <- struct{}{}:
		default:
			continue
		}
		if s.lastUsed.Before(cutoff) {
			s.evicted = true
			delete(m.sessions, id)
			dropped++
		}
		s.release()
	}
	if dropped > 0 {
		log.Info().Int("dropped", dropped).Int("live", len(m.sessions)).Msg("idle sessions swept")
		m.notifyLocked()
	}
	return dropped
}

func (m *Manager) notifyLocked() {
	if m.OnCountChange != nil {
		m.OnCountChange(len(m.sessions))
	}
}

// StartSweeper runs SweepIdle on the configured cron schedule.
func (m *Manager) StartSweeper() error {
	spec := strings.TrimSpace(m.cfg.SweepSchedule)
	if spec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.SweepIdle() }); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", spec, err)
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	c.Start()
	return nil
}

// StopSweeper stops the schedule and waits for a running sweep.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
