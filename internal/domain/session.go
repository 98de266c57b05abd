// Package domain contains core domain types for the concierge service.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthState tracks where a session sits in the identity-verification lifecycle.
type AuthState string

const (
	// AuthAnonymous means no verification has been attempted.
	AuthAnonymous AuthState = "anonymous"
	// AuthVerifying means a verification sub-flow is in progress.
	AuthVerifying AuthState = "verifying"
	// AuthAuthenticated means the caller's identity has been verified.
	AuthAuthenticated AuthState = "authenticated"
	// AuthLockedOut means the attempt budget was exhausted. Terminal for the
	// session's current verification instance.
	AuthLockedOut AuthState = "locked_out"
	// AuthExpired means a previously authenticated session lost its access,
	// e.g. the underlying credential went stale mid-conversation.
	AuthExpired AuthState = "expired"
)

// UserContext holds per-session authentication state and the resolved
// customer identity once verification succeeds.
type UserContext struct {
	AuthState         AuthState `json:"auth_state"`
	CustomerID        string    `json:"customer_id,omitempty"`
	CustomerName      string    `json:"customer_name,omitempty"`
	SessionExpiry     time.Time `json:"session_expiry,omitempty"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// AccountSubSession is the scoped continuation handle for authenticated
// account-data access. It exists only while the invariant in
// EnforceAccountInvariant holds.
type AccountSubSession struct {
	CustomerID   string    `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatSession is the root aggregate: one per conversation.
type ChatSession struct {
	ID             string             `json:"id"`
	UserContext    UserContext        `json:"user_context"`
	History        []Message          `json:"history"`
	AuthContext    json.RawMessage    `json:"auth_context,omitempty"`
	AccountContext *AccountSubSession `json:"account_context,omitempty"`
	PendingQuery   string             `json:"pending_query,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Version        int64              `json:"version"`
}

// NewChatSession creates an empty session for the given id.
func NewChatSession(id string, now time.Time) *ChatSession {
	return &ChatSession{
		ID: id,
		UserContext: UserContext{
			AuthState:         AuthAnonymous,
			LastInteractionAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the conversation history. History is append-only;
// the core never truncates it.
func (s *ChatSession) Append(role, content string, at time.Time) {
	s.History = append(s.History, Message{Role: role, Content: content, Timestamp: at})
	s.UpdatedAt = at
}

// IsAuthenticated reports whether the session holds a live authenticated
// identity at the given instant.
func (s *ChatSession) IsAuthenticated(now time.Time) bool {
	return s.UserContext.AuthState == AuthAuthenticated &&
		s.UserContext.SessionExpiry.After(now)
}

// EnforceAccountInvariant drops the account sub-session and forces
// re-authentication if it exists without a live authenticated identity.
// Returns true if the invariant was violated and state was repaired.
func (s *ChatSession) EnforceAccountInvariant(now time.Time) bool {
	if s.AccountContext == nil {
		return false
	}
	if s.IsAuthenticated(now) {
		return false
	}
	s.AccountContext = nil
	s.AuthContext = nil
	s.UserContext.AuthState = AuthExpired
	return true
}

// InvalidateAuth forces re-authentication after an access failure. The
// account sub-session is destroyed and the verification sub-flow cleared.
func (s *ChatSession) InvalidateAuth() {
	s.AccountContext = nil
	s.AuthContext = nil
	s.UserContext.AuthState = AuthExpired
	s.UserContext.CustomerID = ""
	s.UserContext.CustomerName = ""
	s.UserContext.SessionExpiry = time.Time{}
}

// ResetAuth clears all verification and account state, returning the session
// to anonymous. Used for explicit logout.
func (s *ChatSession) ResetAuth() {
	s.AccountContext = nil
	s.AuthContext = nil
	s.PendingQuery = ""
	s.UserContext.AuthState = AuthAnonymous
	s.UserContext.CustomerID = ""
	s.UserContext.CustomerName = ""
	s.UserContext.SessionExpiry = time.Time{}
}

// Duration returns the elapsed conversation time from the first history
// entry to now. Zero if the history is empty.
func (s *ChatSession) Duration(now time.Time) time.Duration {
	if len(s.History) == 0 {
		return 0
	}
	d := now.Sub(s.History[0].Timestamp)
	if d < 0 {
		return 0
	}
	return d
}

// Transcript renders the full history as a flat text transcript for
// summarization and handoff.
func (s *ChatSession) Transcript() string {
	var b strings.Builder
	for _, m := range s.History {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
