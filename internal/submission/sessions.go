package submission

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strings"

	"github.com/VenkatGGG/lendflow/internal/kvstore"
)

const (
	SessionIDParam = "sessionId"
	TokenParam     = "readinessToken"

	legacyTokenParam = "token"

	sessionIDKey    = "session:id"
	sessionTokenKey = "session:token"
)

// Session identifies a readiness session a later page load or another
// process can resume.
type Session struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// Sessions reads and writes the persisted session slots. Writes are
// best-effort: failures are logged, never returned.
type Sessions struct {
	store  kvstore.Store
	logger *log.Logger
}

func NewSessions(store kvstore.Store, logger *log.Logger) *Sessions {
	if logger == nil {
		logger = log.Default()
	}
	return &Sessions{store: store, logger: logger}
}

// Save persists the non-empty fields of session. A different session id
// replaces the token slot too, so a token never outlives its session.
func (s *Sessions) Save(ctx context.Context, session Session) {
	id := strings.TrimSpace(session.ID)
	token := strings.TrimSpace(session.Token)

	replaced := false
	if id != "" {
		previous, ok, err := s.store.Get(ctx, sessionIDKey)
		if err != nil {
			s.logger.Printf("session id read failed: %v", err)
		}
		replaced = err != nil || !ok || strings.TrimSpace(string(previous)) != id
		if err := s.store.Set(ctx, sessionIDKey, []byte(id)); err != nil {
			s.logger.Printf("session id write failed: %v", err)
		}
	}

	switch {
	case token != "":
		if err := s.store.Set(ctx, sessionTokenKey, []byte(token)); err != nil {
			s.logger.Printf("session token write failed: %v", err)
		}
	case replaced:
		if err := s.store.Remove(ctx, sessionTokenKey); err != nil {
			s.logger.Printf("session token clear failed: %v", err)
		}
	}
}

// SaveFromResponse persists identifiers found in a submission response.
func (s *Sessions) SaveFromResponse(ctx context.Context, body json.RawMessage) {
	session, ok := SessionFromResponse(body)
	if !ok {
		return
	}
	s.Save(ctx, session)
}

func (s *Sessions) Load(ctx context.Context) (Session, bool) {
	var session Session
	if raw, ok, err := s.store.Get(ctx, sessionIDKey); err != nil {
		s.logger.Printf("session id read failed: %v", err)
	} else if ok {
		session.ID = strings.TrimSpace(string(raw))
	}
	if raw, ok, err := s.store.Get(ctx, sessionTokenKey); err != nil {
		s.logger.Printf("session token read failed: %v", err)
	} else if ok {
		session.Token = strings.TrimSpace(string(raw))
	}
	return session, session.ID != ""
}

// Resolve returns the session id from u's query, persisting it, or falls
// back to the persisted one.
func (s *Sessions) Resolve(ctx context.Context, u *url.URL) (string, bool) {
	if u != nil {
		if id := strings.TrimSpace(u.Query().Get(SessionIDParam)); id != "" {
			s.Save(ctx, Session{ID: id, Token: TokenFromURL(u)})
			return id, true
		}
	}
	session, ok := s.Load(ctx)
	return session.ID, ok
}

func (s *Sessions) Clear(ctx context.Context) {
	for _, key := range []string{sessionIDKey, sessionTokenKey} {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Printf("session clear failed: key=%s err=%v", key, err)
		}
	}
}

// TokenFromURL reads the readiness token, accepting the legacy "token" name.
func TokenFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	query := u.Query()
	if token := strings.TrimSpace(query.Get(TokenParam)); token != "" {
		return token
	}
	return strings.TrimSpace(query.Get(legacyTokenParam))
}

// SessionFromResponse extracts {readinessSessionId|sessionId, readinessToken|token}.
func SessionFromResponse(body json.RawMessage) (Session, bool) {
	if len(body) == 0 {
		return Session{}, false
	}
	var shape struct {
		ReadinessSessionID string `json:"readinessSessionId"`
		SessionID          string `json:"sessionId"`
		ReadinessToken     string `json:"readinessToken"`
		Token              string `json:"token"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return Session{}, false
	}
	session := Session{
		ID:    firstNonEmpty(shape.ReadinessSessionID, shape.SessionID),
		Token: firstNonEmpty(shape.ReadinessToken, shape.Token),
	}
	return session, session.ID != "" || session.Token != ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
