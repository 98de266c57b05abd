package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIsAuthenticatedRequiresLiveExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()

	s := NewChatSession("s", now)
	if s.IsAuthenticated(now) {
		t.Fatalf("fresh session must not be authenticated")
	}

	s.UserContext.AuthState = AuthAuthenticated
	s.UserContext.SessionExpiry = now.Add(time.Hour)
	if !s.IsAuthenticated(now) {
		t.Fatalf("expected authenticated")
	}
	if s.IsAuthenticated(now.Add(2 * time.Hour)) {
		t.Fatalf("expired identity must not count")
	}
}

func TestEnforceAccountInvariant(t *testing.T) {
	t.Parallel()
	now := time.Now()

	s := NewChatSession("s", now)
	s.UserContext.AuthState = AuthAuthenticated
	s.UserContext.SessionExpiry = now.Add(time.Hour)
	s.AccountContext = &AccountSubSession{CustomerID: "C-1", CreatedAt: now}
	s.AuthContext = json.RawMessage(`{"v":1}`)

	if s.EnforceAccountInvariant(now) {
		t.Fatalf("a live authentication must not be repaired")
	}

	// The identity expires out from under the sub-session.
	if !s.EnforceAccountInvariant(now.Add(2 * time.Hour)) {
		t.Fatalf("expected repair of orphaned sub-session")
	}
	if s.AccountContext != nil || s.AuthContext != nil {
		t.Fatalf("sub-session and verification blob must be dropped")
	}
	if s.UserContext.AuthState != AuthExpired {
		t.Fatalf("expected expired state, got %s", s.UserContext.AuthState)
	}
}

func TestResetAuthReturnsToAnonymous(t *testing.T) {
	t.Parallel()
	now := time.Now()

	s := NewChatSession("s", now)
	s.UserContext.AuthState = AuthAuthenticated
	s.UserContext.CustomerID = "C-1"
	s.UserContext.SessionExpiry = now.Add(time.Hour)
	s.PendingQuery = "balance?"
	s.AccountContext = &AccountSubSession{CustomerID: "C-1"}

	s.ResetAuth()
	if s.UserContext.AuthState != AuthAnonymous || s.UserContext.CustomerID != "" {
		t.Fatalf("expected anonymous, got %+v", s.UserContext)
	}
	if s.PendingQuery != "" || s.AccountContext != nil {
		t.Fatalf("expected cleared sub-flow state")
	}
}

func TestTranscriptAndDuration(t *testing.T) {
	t.Parallel()
	start := time.Now()

	s := NewChatSession("s", start)
	if s.Duration(start.Add(time.Minute)) != 0 {
		t.Fatalf("empty history has zero duration")
	}

	s.Append(RoleUser, "hi", start)
	s.Append(RoleAssistant, "hello", start.Add(10*time.Second))

	tr := s.Transcript()
	if !strings.Contains(tr, "user: hi") || !strings.Contains(tr, "assistant: hello") {
		t.Fatalf("unexpected transcript: %q", tr)
	}
	if got := s.Duration(start.Add(time.Minute)); got != time.Minute {
		t.Fatalf("expected 1m duration, got %v", got)
	}
}

func TestVerificationStateHelpers(t *testing.T) {
	t.Parallel()

	st := NewVerificationState()
	if st.Stage != StageAnonymous || st.RemainingAttempts() != MaxVerificationAttempts {
		t.Fatalf("unexpected fresh state: %+v", st)
	}

	st.AddFactor("SSN")
	st.AddFactor("SSN")
	if len(st.VerifiedFactors) != 1 || !st.HasFactor("SSN") {
		t.Fatalf("factors must be unique: %+v", st.VerifiedFactors)
	}

	st.FailedAttempts = MaxVerificationAttempts + 2
	if st.RemainingAttempts() != 0 {
		t.Fatalf("remaining attempts must clamp at zero")
	}

	if !StageLockedOut.Terminal() || !StageAuthenticated.Terminal() || StageVerifying.Terminal() {
		t.Fatalf("terminal stages wrong")
	}
}
