package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/types"
)

var (
	// ErrSessionExists is returned by Create for a call id already registered.
	ErrSessionExists = errors.New("call: session already exists")

	// ErrSessionNotFound is returned for operations on an unknown call id.
	ErrSessionNotFound = errors.New("call: session not found")
)

// Manager is the registry of live call sessions, keyed by call id. Workers
// hold only the call id and look sessions up here, so teardown is a single
// map delete plus the session's own Close.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithManagerLogger overrides the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an empty session registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new session for callID. Fails with ErrSessionExists
// when the call id is already live.
func (m *Manager) Create(callID string, media MediaSender, agent types.AgentConfig, opts ...SessionOption) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; ok {
		return nil, fmt.Errorf("call: create %s: %w", callID, ErrSessionExists)
	}
	s := NewSession(callID, media, agent, opts...)
	m.sessions[callID] = s
	m.logger.Info("call: session created", "call_id", callID, "agent_id", agent.ID)
	return s, nil
}

// Get returns the session for callID.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Destroy removes the session from the registry and tears it down. The
// registry entry is deleted first so concurrent lookups stop resolving the
// dying call.
func (m *Manager) Destroy(callID string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("call: destroy %s: %w", callID, ErrSessionNotFound)
	}

	err := s.Close()
	m.logger.Info("call: session destroyed", "call_id", callID)
	return err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown destroys every live session. Used at process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn("call: shutdown close", "call_id", id, "error", err)
		}
	}
}
