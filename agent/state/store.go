package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = contractx.ErrInvalidSession
	// ErrStoreUnavailable marks transport and server side failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the persistence contract used by the session manager.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps session state in process. States are copied through JSON
// so callers never share turns with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	m.mu.RLock()
	raw, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if err := st.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	m.mu.Lock()
	m.sessions[st.SessionID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}
