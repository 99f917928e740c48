package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Paradize0404/bot-work/internal/cache"
)

// Tracked message keys. Handlers store the ids of their single-window
// messages under these names so navigation resets and /cancel can find and
// remove them regardless of which workflow created them.
const (
	KeyHeaderMsg = "header_msg_id"
	KeyPromptMsg = "prompt_msg_id"
	KeyMenuMsg   = "menu_msg_id"
)

var trackedMsgKeys = []string{KeyHeaderMsg, KeyPromptMsg, KeyMenuMsg}

// Session is one user's workflow state. Data carries scalar workflow fields
// and tracked message ids; larger payloads (item lists) are JSON strings.
type Session struct {
	State string            `json:"state"`
	Data  map[string]string `json:"data"`
}

// NewSession starts a session in the given state.
func NewSession(state string) *Session {
	return &Session{State: state, Data: make(map[string]string)}
}

// Set stores a string field.
func (s *Session) Set(key, val string) { s.Data[key] = val }

// Get reads a string field, "" when absent.
func (s *Session) Get(key string) string { return s.Data[key] }

// SetInt and GetInt handle message ids and counters.
func (s *Session) SetInt(key string, v int) { s.Data[key] = strconv.Itoa(v) }

func (s *Session) GetInt(key string) int {
	v, _ := strconv.Atoi(s.Data[key])
	return v
}

// SetJSON marshals a structured field into the session.
func (s *Session) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session field %s: %w", key, err)
	}
	s.Data[key] = string(b)
	return nil
}

// GetJSON unmarshals a structured field; false when the field is absent.
func (s *Session) GetJSON(key string, out any) (bool, error) {
	raw, ok := s.Data[key]
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("session field %s: %w", key, err)
	}
	return true, nil
}

// Sessions persists workflow state per user. Write-off authoring spans
// minutes and several people, so sessions must survive a restart whenever a
// shared backend is configured.
type Sessions struct {
	b cache.Backend
}

func NewSessions(b cache.Backend) *Sessions {
	return &Sessions{b: b}
}

func sessionKey(userID int64) string {
	return "fsm:" + strconv.FormatInt(userID, 10)
}

// Get returns the active session, or nil when the user is idle.
func (s *Sessions) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, ok, err := s.b.Get(ctx, sessionKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// A corrupt session is unrecoverable state; drop it.
		_ = s.b.Del(ctx, sessionKey(userID))
		return nil, nil
	}
	if sess.Data == nil {
		sess.Data = make(map[string]string)
	}
	return &sess, nil
}

// Put stores the session without expiry; it lives until cleared.
func (s *Sessions) Put(ctx context.Context, userID int64, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.b.Set(ctx, sessionKey(userID), b, 0)
}

// Clear ends the session.
func (s *Sessions) Clear(ctx context.Context, userID int64) error {
	return s.b.Del(ctx, sessionKey(userID))
}
