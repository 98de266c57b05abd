package verify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/careline/concierge/internal/domain"
)

// SnapshotVersion is the current serialization version for verification
// sub-flow state.
const SnapshotVersion = 1

// Snapshot is the versioned wire form of a verification sub-flow, stored as
// an opaque blob inside the chat session. Decoding ignores unknown fields
// and defaults missing ones so older and newer snapshots both restore.
type Snapshot struct {
	V                    int       `json:"v"`
	Stage                string    `json:"stage"`
	FailedAttempts       int       `json:"failed_attempts"`
	VerifiedFactors      []string  `json:"verified_factors,omitempty"`
	CandidateIdentifier  string    `json:"candidate_identifier,omitempty"`
	ResolvedCustomerID   string    `json:"resolved_customer_id,omitempty"`
	ResolvedCustomerName string    `json:"resolved_customer_name,omitempty"`
	AuthenticatedAt      time.Time `json:"authenticated_at,omitempty"`
}

// EncodeSnapshot serializes verification state for embedding in a session.
func EncodeSnapshot(st *domain.VerificationState) (json.RawMessage, error) {
	if st == nil {
		return nil, nil
	}
	snap := Snapshot{
		V:                    SnapshotVersion,
		Stage:                string(st.Stage),
		FailedAttempts:       st.FailedAttempts,
		VerifiedFactors:      st.VerifiedFactors,
		CandidateIdentifier:  st.CandidateIdentifier,
		ResolvedCustomerID:   st.ResolvedCustomerID,
		ResolvedCustomerName: st.ResolvedCustomerName,
		AuthenticatedAt:      st.AuthenticatedAt,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode verification snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot restores verification state from a stored blob. Missing
// fields default (an empty stage restores as anonymous) and the
// attempts/lockout invariant is re-established on load so a corrupt or
// hand-edited blob cannot resurrect a locked-out flow.
func DecodeSnapshot(raw json.RawMessage) (*domain.VerificationState, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode verification snapshot: %w", err)
	}

	st := &domain.VerificationState{
		Stage:                domain.VerificationStage(snap.Stage),
		FailedAttempts:       snap.FailedAttempts,
		VerifiedFactors:      snap.VerifiedFactors,
		CandidateIdentifier:  snap.CandidateIdentifier,
		ResolvedCustomerID:   snap.ResolvedCustomerID,
		ResolvedCustomerName: snap.ResolvedCustomerName,
		AuthenticatedAt:      snap.AuthenticatedAt,
	}

	switch st.Stage {
	case domain.StageAnonymous, domain.StageVerifying, domain.StageAuthenticated, domain.StageLockedOut:
	default:
		st.Stage = domain.StageAnonymous
	}
	if st.FailedAttempts < 0 {
		st.FailedAttempts = 0
	}
	if st.FailedAttempts >= domain.MaxVerificationAttempts {
		st.FailedAttempts = domain.MaxVerificationAttempts
		st.Stage = domain.StageLockedOut
	}
	return st, nil
}
