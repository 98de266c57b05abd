// Package orchestrator implements the conversation orchestration core: it
// owns session lifecycle, routes classified intents to responders, gates
// account data behind identity verification, runs the sensitive-action
// approval loop, and packages escalations for human handoff.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/store"
	"github.com/careline/concierge/internal/verify"
)

// ErrApprovalLoopExceeded is returned when the approval micro-protocol does
// not converge within the iteration cap.
var ErrApprovalLoopExceeded = errors.New("approval loop iteration cap exceeded")

// Fixed user-facing copy for recovered failure modes.
const (
	msgRephrase   = "I'm sorry, I didn't quite get that. Could you rephrase your question?"
	msgOutOfScope = "I can help with questions about your account, billing, and our products. For anything else, our help center is the best place to look."
	msgApology    = "I'm sorry, something went wrong on our end. Please try again in a moment."
)

var outOfScopeFollowUps = []string{
	"Check my account balance",
	"Ask about billing and payments",
	"Learn about our products",
}

// Options tunes orchestrator policy.
type Options struct {
	// ConfidenceThreshold below which a classification is treated as
	// out-of-scope rather than acted on.
	ConfidenceThreshold float64
	// AuthSessionTTL is how long a verified identity stays live.
	AuthSessionTTL time.Duration
	// MaxApprovalIterations caps the approval micro-protocol.
	MaxApprovalIterations int
}

func (o Options) withDefaults() Options {
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.5
	}
	if o.AuthSessionTTL <= 0 {
		o.AuthSessionTTL = 30 * time.Minute
	}
	if o.MaxApprovalIterations <= 0 {
		o.MaxApprovalIterations = 5
	}
	return o
}

// Collaborators bundles the external collaborators the core consumes.
type Collaborators struct {
	Classifier IntentClassifier
	FAQ        FAQResponder
	Account    AccountResponder
	Summarizer Summarizer
	Approvals  ApprovalHandler
}

type categoryHandler func(ctx context.Context, s *domain.ChatSession, cl Classification, text string, now time.Time) domain.ChatResponse

// Orchestrator is the stateful routing engine at the root of the system.
type Orchestrator struct {
	store    store.Store
	engine   *verify.Engine
	collab   Collaborators
	sink     HandoffSink
	locks    *sessionLocks
	dispatch map[domain.Category]categoryHandler
	opts     Options
}

// New creates the orchestrator. Handlers for new categories register in the
// dispatch table without touching the routing loop.
func New(st store.Store, engine *verify.Engine, collab Collaborators, sink HandoffSink, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		engine: engine,
		collab: collab,
		sink:   sink,
		locks:  newSessionLocks(),
		opts:   opts.withDefaults(),
	}
	o.dispatch = map[domain.Category]categoryHandler{
		domain.CategoryGeneral:    o.handleGeneral,
		domain.CategoryAccount:    o.handleAccount,
		domain.CategoryHuman:      o.handleHuman,
		domain.CategoryOutOfScope: o.handleOutOfScope,
	}
	return o
}

// ProcessMessage routes one inbound user message through the decision tree
// and returns the assistant's response. Turns for the same session id are
// serialized; turns for different ids run in parallel.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, text string) (resp domain.ChatResponse, err error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ChatResponse{}, errors.New("session id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Ignored outright: no state transition, no history entry.
		return domain.ChatResponse{RequiredAction: domain.ActionNone}, nil
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	now := time.Now()
	session, err := o.loadOrCreate(ctx, sessionID, now)
	if err != nil {
		slog.Error("failed to load session", "session_id", sessionID, "error", err)
		return o.apology(), nil
	}

	// Unrecoverable failures become a generic apology; the session is still
	// persisted so conversation continuity survives the turn.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing message", "session_id", sessionID, "panic", r)
			resp = o.apology()
			session.Append(domain.RoleAssistant, resp.Message, time.Now())
			o.persist(ctx, session)
			err = nil
		}
	}()

	session.Append(domain.RoleUser, text, now)
	session.UserContext.LastInteractionAt = now
	if session.EnforceAccountInvariant(now) {
		slog.Warn("account sub-session outlived authentication, forcing re-verification",
			"session_id", sessionID)
	}

	resp = o.routeTurn(ctx, session, text, now)

	session.Append(domain.RoleAssistant, resp.Message, time.Now())
	o.persist(ctx, session)
	return resp, nil
}

// Reset clears verification and account state for a session: explicit
// logout.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return store.ErrNotFound
	}
	session.ResetAuth()
	o.persist(ctx, session)
	return nil
}

// Session returns the stored session, or nil if absent.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	return o.store.Get(ctx, sessionID)
}

func (o *Orchestrator) routeTurn(ctx context.Context, s *domain.ChatSession, text string, now time.Time) domain.ChatResponse {
	// An active, incomplete verification sub-flow swallows the turn before
	// any classification happens.
	if len(s.AuthContext) > 0 {
		st, err := verify.DecodeSnapshot(s.AuthContext)
		if err != nil {
			slog.Error("dropping undecodable verification snapshot", "session_id", s.ID, "error", err)
			s.AuthContext = nil
		} else if st != nil && !st.Stage.Terminal() {
			return o.verificationTurn(ctx, s, st, text, now)
		}
	}
	return o.classifyAndDispatch(ctx, s, text, now)
}

func (o *Orchestrator) classifyAndDispatch(ctx context.Context, s *domain.ChatSession, text string, now time.Time) domain.ChatResponse {
	cl, err := o.collab.Classifier.Classify(ctx, text)
	if err != nil {
		slog.Warn("intent classification failed", "session_id", s.ID, "error", err)
		return domain.ChatResponse{
			Message:        msgRephrase,
			Category:       domain.CategoryUnknown,
			RequiredAction: domain.ActionClarify,
		}
	}

	// Under-confidence is not an error: it falls back to out-of-scope.
	if cl.Confidence < o.opts.ConfidenceThreshold {
		cl.Category = domain.CategoryOutOfScope
	}

	handler, ok := o.dispatch[cl.Category]
	if !ok {
		handler = o.handleOutOfScope
	}

	slog.Info("message classified",
		"session_id", s.ID,
		"category", cl.Category,
		"confidence", cl.Confidence,
		"requires_auth", cl.RequiresAuth)

	return handler(ctx, s, cl, text, now)
}

func (o *Orchestrator) verificationTurn(ctx context.Context, s *domain.ChatSession, st *domain.VerificationState, text string, now time.Time) domain.ChatResponse {
	res := o.engine.Step(ctx, st, text)

	blob, err := verify.EncodeSnapshot(st)
	if err != nil {
		slog.Error("failed to encode verification snapshot", "session_id", s.ID, "error", err)
	} else {
		s.AuthContext = blob
	}

	switch res.NextAction {
	case verify.ActionComplete:
		s.UserContext.AuthState = domain.AuthAuthenticated
		s.UserContext.CustomerID = st.ResolvedCustomerID
		s.UserContext.CustomerName = st.ResolvedCustomerName
		s.UserContext.SessionExpiry = now.Add(o.opts.AuthSessionTTL)

		slog.Info("identity verified",
			"session_id", s.ID,
			"customer_id", st.ResolvedCustomerID,
			"factors", st.VerifiedFactors)

		// Authentication was triggered mid-query: answer the buffered
		// request now, not merely greet the user.
		if s.PendingQuery != "" {
			pending := s.PendingQuery
			s.PendingQuery = ""
			answer := o.answerAccount(ctx, s, pending, now)
			answer.Message = res.Message + " " + answer.Message
			return answer
		}
		return domain.ChatResponse{
			Message:        res.Message,
			Category:       domain.CategoryAccount,
			RequiredAction: domain.ActionNone,
		}

	case verify.ActionLockedOut:
		s.UserContext.AuthState = domain.AuthLockedOut
		s.PendingQuery = ""
		return domain.ChatResponse{
			Message:        res.Message,
			Category:       domain.CategoryAccount,
			RequiredAction: domain.ActionAuthFailed,
		}

	default:
		s.UserContext.AuthState = domain.AuthVerifying
		return domain.ChatResponse{
			Message:        res.Message,
			Category:       domain.CategoryAccount,
			RequiredAction: domain.ActionAuthInProgress,
		}
	}
}

func (o *Orchestrator) handleGeneral(ctx context.Context, s *domain.ChatSession, cl Classification, text string, now time.Time) domain.ChatResponse {
	ans, err := o.collab.FAQ.Answer(ctx, text, s.History)
	if err != nil {
		slog.Warn("faq responder failed", "session_id", s.ID, "error", err)
		return domain.ChatResponse{
			Message:        msgRephrase,
			Category:       domain.CategoryGeneral,
			RequiredAction: domain.ActionClarify,
		}
	}
	if !ans.Resolved {
		return o.escalate(ctx, s, text, "outside knowledge base", now)
	}
	return domain.ChatResponse{
		Message:        ans.Text,
		Category:       domain.CategoryGeneral,
		RequiredAction: domain.ActionNone,
	}
}

func (o *Orchestrator) handleAccount(ctx context.Context, s *domain.ChatSession, cl Classification, text string, now time.Time) domain.ChatResponse {
	// Lockout is permanent for this verification instance; automated
	// account access is off the table, so hand the person to a human.
	if s.UserContext.AuthState == domain.AuthLockedOut {
		return o.escalate(ctx, s, text, "identity verification locked out", now)
	}
	if s.IsAuthenticated(now) {
		return o.answerAccount(ctx, s, text, now)
	}
	return o.beginVerification(s, text)
}

func (o *Orchestrator) handleHuman(ctx context.Context, s *domain.ChatSession, cl Classification, text string, now time.Time) domain.ChatResponse {
	return o.escalate(ctx, s, text, "human agent requested", now)
}

func (o *Orchestrator) handleOutOfScope(ctx context.Context, s *domain.ChatSession, cl Classification, text string, now time.Time) domain.ChatResponse {
	return domain.ChatResponse{
		Message:            msgOutOfScope,
		Category:           domain.CategoryOutOfScope,
		RequiredAction:     domain.ActionClarify,
		SuggestedFollowUps: outOfScopeFollowUps,
	}
}

// beginVerification buffers the account question and opens the verification
// sub-flow.
func (o *Orchestrator) beginVerification(s *domain.ChatSession, text string) domain.ChatResponse {
	st := domain.NewVerificationState()
	blob, err := verify.EncodeSnapshot(st)
	if err != nil {
		slog.Error("failed to encode verification snapshot", "session_id", s.ID, "error", err)
		return o.apology()
	}
	s.AuthContext = blob
	s.PendingQuery = text
	s.UserContext.AuthState = domain.AuthVerifying

	begin := o.engine.Begin()
	return domain.ChatResponse{
		Message:        begin.Message,
		Category:       domain.CategoryAccount,
		RequiredAction: domain.ActionAuthInProgress,
	}
}

// answerAccount invokes the account responder inside the authenticated
// sub-session, running the approval loop if the responder requests
// sensitive-action confirmation.
func (o *Orchestrator) answerAccount(ctx context.Context, s *domain.ChatSession, text string, now time.Time) domain.ChatResponse {
	if s.AccountContext == nil {
		// Created lazily on the first authenticated data query.
		s.AccountContext = &domain.AccountSubSession{
			CustomerID:   s.UserContext.CustomerID,
			CustomerName: s.UserContext.CustomerName,
			CreatedAt:    now,
		}
	}

	ans, err := o.collab.Account.Answer(ctx, s.AccountContext, text)
	if errors.Is(err, ErrAccessInvalidated) {
		slog.Warn("account access invalidated mid-session, forcing re-authentication",
			"session_id", s.ID, "customer_id", s.UserContext.CustomerID)
		s.InvalidateAuth()
		return o.beginVerification(s, text)
	}
	if err != nil {
		slog.Warn("account responder failed", "session_id", s.ID, "error", err)
		return domain.ChatResponse{
			Message:        msgRephrase,
			Category:       domain.CategoryAccount,
			RequiredAction: domain.ActionClarify,
		}
	}

	if len(ans.PendingApprovals) > 0 {
		final, loopErr := o.runApprovalLoop(ctx, s.AccountContext, ans)
		if loopErr != nil {
			slog.Error("approval loop failed", "session_id", s.ID, "error", loopErr)
			return o.escalate(ctx, s, text, "approval loop did not converge", now)
		}
		ans = final
	}

	if !ans.Resolved {
		return o.escalate(ctx, s, text, "account request unresolved", now)
	}
	return domain.ChatResponse{
		Message:        ans.Text,
		Category:       domain.CategoryAccount,
		RequiredAction: domain.ActionNone,
	}
}

func (o *Orchestrator) apology() domain.ChatResponse {
	return domain.ChatResponse{
		Message:        msgApology,
		Category:       domain.CategoryUnknown,
		RequiredAction: domain.ActionNone,
	}
}

// loadOrCreate returns the stored session or creates one. First-touch
// creation is idempotent per id: a lost create race re-reads the winner.
func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string, now time.Time) (*domain.ChatSession, error) {
	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	session = domain.NewChatSession(sessionID, now)
	err = o.store.Create(ctx, session)
	if errors.Is(err, store.ErrAlreadyExists) {
		session, err = o.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, store.ErrNotFound
		}
		return session, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// persist writes the session back. On a version conflict the freshest
// version number is adopted and the write retried once: last writer wins.
func (o *Orchestrator) persist(ctx context.Context, s *domain.ChatSession) {
	err := o.store.Update(ctx, s)
	if errors.Is(err, store.ErrVersionConflict) {
		current, getErr := o.store.Get(ctx, s.ID)
		if getErr == nil && current != nil {
			s.Version = current.Version
			err = o.store.Update(ctx, s)
		}
	}
	if err != nil {
		slog.Error("failed to persist session", "session_id", s.ID, "error", err)
	}
}
