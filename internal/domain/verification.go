package domain

import "time"

// MaxVerificationAttempts is the attempt budget for challenge answers.
// Failed identity lookups do not consume it; only substantively wrong
// answers to a posed challenge do.
const MaxVerificationAttempts = 3

// VerificationStage is the identity-verification state machine state.
type VerificationStage string

const (
	// StageAnonymous is the initial state: no candidate record resolved yet.
	StageAnonymous VerificationStage = "anonymous"
	// StageVerifying means a candidate record is resolved and challenges are
	// being answered.
	StageVerifying VerificationStage = "verifying"
	// StageAuthenticated is terminal success.
	StageAuthenticated VerificationStage = "authenticated"
	// StageLockedOut is terminal failure. There is no transition out;
	// recovery requires a brand-new verification instance.
	StageLockedOut VerificationStage = "locked_out"
)

// Terminal reports whether no further transitions are possible.
func (s VerificationStage) Terminal() bool {
	return s == StageAuthenticated || s == StageLockedOut
}

// VerificationState is the verification engine's working state, embedded in
// ChatSession.AuthContext while a sub-flow is active.
type VerificationState struct {
	Stage                VerificationStage `json:"stage"`
	FailedAttempts       int               `json:"failed_attempts"`
	VerifiedFactors      []string          `json:"verified_factors,omitempty"`
	CandidateIdentifier  string            `json:"candidate_identifier,omitempty"`
	ResolvedCustomerID   string            `json:"resolved_customer_id,omitempty"`
	ResolvedCustomerName string            `json:"resolved_customer_name,omitempty"`
	AuthenticatedAt      time.Time         `json:"authenticated_at,omitempty"`
}

// NewVerificationState returns a fresh sub-flow in the anonymous stage.
func NewVerificationState() *VerificationState {
	return &VerificationState{Stage: StageAnonymous}
}

// HasFactor reports whether the given challenge type is already satisfied.
func (v *VerificationState) HasFactor(factorType string) bool {
	for _, f := range v.VerifiedFactors {
		if f == factorType {
			return true
		}
	}
	return false
}

// AddFactor records a satisfied challenge type. Duplicates are ignored so the
// set stays unique.
func (v *VerificationState) AddFactor(factorType string) {
	if factorType == "" || v.HasFactor(factorType) {
		return
	}
	v.VerifiedFactors = append(v.VerifiedFactors, factorType)
}

// RemainingAttempts returns how many wrong answers are left before lockout.
func (v *VerificationState) RemainingAttempts() int {
	r := MaxVerificationAttempts - v.FailedAttempts
	if r < 0 {
		return 0
	}
	return r
}
