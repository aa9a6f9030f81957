package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotAuthenticated is returned when linking is attempted before an
// authenticated identity exists.
var ErrNotAuthenticated = errors.New("no authenticated identity")

// ErrNoSession is returned when an operation needs an active session and none
// exists yet.
var ErrNoSession = errors.New("no active session")

// SessionManager owns the identity and persistence of the conversation
// session. The persisted slot is the only cross-restart shared state; it is
// read once on resume and written only by create/delete operations.
type SessionManager struct {
	api   SessionAPI
	slot  SlotStore
	token TokenProvider

	mu           sync.Mutex
	current      *Session
	currentPhase string

	// linking is attempted at most once per session/identity pair; a failure
	// allows exactly one more attempt.
	linkAttempted bool
	linkRetried   bool
}

func NewSessionManager(api SessionAPI, slot SlotStore, token TokenProvider) *SessionManager {
	return &SessionManager{api: api, slot: slot, token: token}
}

// ResumeOrCreate rehydrates the persisted session if its history is still
// fetchable, otherwise discards the stale id and creates a fresh session. The
// returned messages are the history to replay (typically one welcome entry for
// a fresh session). A resume failure is recovered locally, never surfaced.
func (m *SessionManager) ResumeOrCreate(ctx context.Context) (Session, []DisplayMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok, err := m.slot.Get(ctx); err != nil {
		return Session{}, nil, errors.Wrap(err, "read session slot")
	} else if ok {
		hist, err := m.api.GetHistory(ctx, id)
		if err == nil {
			sess := Session{SessionID: hist.SessionID, ConversationID: hist.ConversationID}
			if sess.SessionID == "" {
				sess.SessionID = id
			}
			m.adoptLocked(sess, hist.CurrentPhase)
			log.Info().Str("component", "session").Str("session_id", sess.SessionID).Msg("resumed persisted session")
			return sess, hist.Messages, nil
		}
		log.Warn().Err(err).Str("component", "session").Str("session_id", id).Msg("resume failed, discarding persisted session")
		if err := m.slot.Delete(ctx); err != nil {
			return Session{}, nil, errors.Wrap(err, "discard stale session")
		}
	}

	return m.createLocked(ctx)
}

// StartNew discards the persisted id and creates a fresh session. The caller
// is responsible for clearing its in-memory conversation state first.
func (m *SessionManager) StartNew(ctx context.Context) (Session, []DisplayMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.slot.Delete(ctx); err != nil {
		return Session{}, nil, errors.Wrap(err, "delete session slot")
	}
	m.current = nil
	return m.createLocked(ctx)
}

func (m *SessionManager) createLocked(ctx context.Context) (Session, []DisplayMessage, error) {
	sess, err := m.api.CreateSession(ctx)
	if err != nil {
		return Session{}, nil, errors.Wrap(err, "create session")
	}
	if err := m.slot.Put(ctx, sess.SessionID); err != nil {
		return Session{}, nil, errors.Wrap(err, "persist session id")
	}
	hist, err := m.api.GetHistory(ctx, sess.SessionID)
	if err != nil {
		return Session{}, nil, errors.Wrap(err, "fetch initial history")
	}
	m.adoptLocked(sess, hist.CurrentPhase)
	log.Info().Str("component", "session").Str("session_id", sess.SessionID).Msg("created session")
	return sess, hist.Messages, nil
}

func (m *SessionManager) adoptLocked(sess Session, phase string) {
	m.current = &sess
	m.currentPhase = phase
	m.linkAttempted = false
	m.linkRetried = false
}

// Current returns the active session, if any.
func (m *SessionManager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// CurrentPhase returns the intake phase reported by the last history fetch.
func (m *SessionManager) CurrentPhase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPhase
}

// LinkToIdentity links the session to the authenticated identity. It requires
// both a valid session and a bearer token, is a no-op once an attempt
// succeeded or already ran, and permits exactly one more attempt after a
// failure.
func (m *SessionManager) LinkToIdentity(ctx context.Context) (LinkResult, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return LinkResult{}, ErrNoSession
	}
	if m.token == nil || m.token.Token() == "" {
		m.mu.Unlock()
		return LinkResult{}, ErrNotAuthenticated
	}
	if m.linkAttempted {
		m.mu.Unlock()
		return LinkResult{}, nil
	}
	m.linkAttempted = true
	sessionID := m.current.SessionID
	m.mu.Unlock()

	res, err := m.api.LinkSession(ctx, sessionID)
	if err != nil {
		m.mu.Lock()
		if !m.linkRetried {
			m.linkRetried = true
			m.linkAttempted = false
		}
		m.mu.Unlock()
		return LinkResult{}, errors.Wrap(err, "link session")
	}
	log.Info().Str("component", "session").Str("session_id", sessionID).Str("user_id", res.UserID).Msg("linked session to identity")
	return res, nil
}
