// Package session owns the authenticated identity of each chat: who is logged
// in, which bearer token scopes their calls, and the durable copy of both.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"grader-bot/api/internal/gateway"
)

type Session struct {
	Token string
	User  gateway.User
}

// Store is the durable side of a session. Satisfied by store.ClientKV.
type Store interface {
	SaveSession(ctx context.Context, chatID int64, token string, userJSON []byte) error
	LoadSession(ctx context.Context, chatID int64) (string, []byte, error)
	ClearSession(ctx context.Context, chatID int64) error
}

type authAPI interface {
	Login(ctx context.Context, username, password string) (*gateway.LoginResponse, error)
}

// Manager holds the in-memory sessions and keeps the store in step with them.
// The byToken index exists so the gateway's 401 hook, which only knows the
// failing token, can find the chat it belongs to.
type Manager struct {
	api   authAPI
	store Store

	mu      sync.Mutex
	byChat  map[int64]*Session
	byToken map[string]int64

	onExpired func(chatID int64)
}

func NewManager(api authAPI, st Store) *Manager {
	return &Manager{
		api:     api,
		store:   st,
		byChat:  make(map[int64]*Session),
		byToken: make(map[string]int64),
	}
}

// OnExpired registers the callback fired when a session dies to a 401. Set
// once during wiring, before any traffic.
func (m *Manager) OnExpired(fn func(chatID int64)) { m.onExpired = fn }

// Restore loads a persisted session without re-validating the token against
// the backend. A revoked token surfaces as AuthExpired on its first use; that
// trade-off is deliberate.
func (m *Manager) Restore(ctx context.Context, chatID int64) (*Session, bool) {
	m.mu.Lock()
	if s, ok := m.byChat[chatID]; ok {
		m.mu.Unlock()
		return s, true
	}
	m.mu.Unlock()

	token, userJSON, err := m.store.LoadSession(ctx, chatID)
	if err != nil {
		return nil, false
	}
	var u gateway.User
	if err := json.Unmarshal(userJSON, &u); err != nil {
		slog.Warn("persisted user profile is corrupt, dropping session", "chat_id", chatID, "err", err)
		_ = m.store.ClearSession(ctx, chatID)
		return nil, false
	}
	s := &Session{Token: token, User: u}

	m.mu.Lock()
	m.byChat[chatID] = s
	m.byToken[token] = chatID
	m.mu.Unlock()
	return s, true
}

func (m *Manager) Login(ctx context.Context, chatID int64, username, password string) (*Session, error) {
	resp, err := m.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	userJSON, _ := json.Marshal(resp.User)
	if err := m.store.SaveSession(ctx, chatID, resp.AccessToken, userJSON); err != nil {
		slog.Error("persisting session failed", "chat_id", chatID, "err", err)
	}
	s := &Session{Token: resp.AccessToken, User: resp.User}

	m.mu.Lock()
	if old, ok := m.byChat[chatID]; ok {
		delete(m.byToken, old.Token)
	}
	m.byChat[chatID] = s
	m.byToken[s.Token] = chatID
	m.mu.Unlock()
	return s, nil
}

// Logout drops the session from memory and storage. It never fails from the
// caller's point of view; a storage hiccup is logged and the in-memory side is
// gone regardless.
func (m *Manager) Logout(ctx context.Context, chatID int64) {
	m.mu.Lock()
	if s, ok := m.byChat[chatID]; ok {
		delete(m.byToken, s.Token)
		delete(m.byChat, chatID)
	}
	m.mu.Unlock()

	if err := m.store.ClearSession(ctx, chatID); err != nil {
		slog.Error("clearing persisted session failed", "chat_id", chatID, "err", err)
	}
}

// HandleUnauthorized is the gateway's 401 hook. It tears the session down
// exactly like Logout and then notifies the workflow once. Repeated reports
// for the same token are no-ops: the token index entry is gone after the
// first one.
func (m *Manager) HandleUnauthorized(token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	chatID, ok := m.byToken[token]
	if ok {
		delete(m.byToken, token)
		delete(m.byChat, chatID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.ClearSession(ctx, chatID); err != nil {
		slog.Error("clearing persisted session failed", "chat_id", chatID, "err", err)
	}
	if m.onExpired != nil {
		m.onExpired(chatID)
	}
}

func (m *Manager) Get(chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byChat[chatID]
}

// Token returns the chat's bearer token, or "" when logged out.
func (m *Manager) Token(chatID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byChat[chatID]; ok {
		return s.Token
	}
	return ""
}
