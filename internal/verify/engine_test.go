package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/careline/concierge/internal/domain"
)

// fakeDirectory knows one customer reachable via "555-1234" whose SSN
// last-four is "1234" and date of birth is "1990-04-02".
type fakeDirectory struct {
	lookupErr error
	verifyErr error
}

func (d *fakeDirectory) Lookup(ctx context.Context, identifier string) (LookupResult, error) {
	if d.lookupErr != nil {
		return LookupResult{}, d.lookupErr
	}
	if identifier == "555-1234" {
		return LookupResult{Found: true, CustomerID: "C-1001", CustomerName: "Dana"}, nil
	}
	return LookupResult{}, nil
}

func (d *fakeDirectory) VerifyFactor(ctx context.Context, identifier, factorType, answer string) (bool, error) {
	if d.verifyErr != nil {
		return false, d.verifyErr
	}
	switch factorType {
	case FactorSSN:
		return answer == "1234", nil
	case FactorDOB:
		return answer == "1990-04-02", nil
	}
	return false, nil
}

// heuristicRouter routes anonymous-stage text to lookup and verifying-stage
// text to a factor answer, mimicking what the model-backed router decides.
func heuristicRouter() Router {
	return RouterFunc(func(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error) {
		if stage == domain.StageAnonymous {
			return ToolCall{Kind: ToolLookup, Identifier: text}, nil
		}
		return ToolCall{Kind: ToolVerifyFactor, Answer: text}, nil
	})
}

func TestLookupThenCorrectFactorAuthenticates(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeDirectory{}, heuristicRouter(), nil)
	st := domain.NewVerificationState()

	res := engine.Step(context.Background(), st, "555-1234")
	if st.Stage != domain.StageVerifying {
		t.Fatalf("expected verifying stage after lookup, got %s", st.Stage)
	}
	if res.NextAction != ActionAskNextFactor {
		t.Fatalf("expected ask_next_factor, got %s", res.NextAction)
	}
	if st.CandidateIdentifier != "555-1234" || st.ResolvedCustomerID != "C-1001" {
		t.Fatalf("candidate not recorded: %+v", st)
	}

	res = engine.Step(context.Background(), st, "1234")
	if !res.Verified || res.NextAction != ActionComplete {
		t.Fatalf("expected completed verification, got %+v", res)
	}
	if st.Stage != domain.StageAuthenticated {
		t.Fatalf("expected authenticated stage, got %s", st.Stage)
	}
	if len(st.VerifiedFactors) != 1 || st.VerifiedFactors[0] != FactorSSN {
		t.Fatalf("expected verified factors {SSN}, got %v", st.VerifiedFactors)
	}
	if st.AuthenticatedAt.IsZero() {
		t.Fatal("expected authenticatedAt to be stamped")
	}
}

func TestThreeWrongAnswersLockOut(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeDirectory{}, heuristicRouter(), nil)
	st := domain.NewVerificationState()
	engine.Step(context.Background(), st, "555-1234")

	answers := []string{"0000", "1111", "2222"}
	var last StepResult
	for i, wrong := range answers {
		last = engine.Step(context.Background(), st, wrong)
		if st.FailedAttempts > domain.MaxVerificationAttempts {
			t.Fatalf("attempt count overshot budget: %d", st.FailedAttempts)
		}
		if i < len(answers)-1 && last.NextAction != ActionRetry {
			t.Fatalf("attempt %d: expected retry, got %s", i, last.NextAction)
		}
	}

	if last.NextAction != ActionLockedOut || last.RemainingAttempts != 0 {
		t.Fatalf("expected locked_out with 0 remaining, got %+v", last)
	}
	if st.Stage != domain.StageLockedOut {
		t.Fatalf("expected locked out stage, got %s", st.Stage)
	}
	if st.FailedAttempts != domain.MaxVerificationAttempts {
		t.Fatalf("expected failedAttempts == max, got %d", st.FailedAttempts)
	}
}

func TestLockoutIsPermanent(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeDirectory{}, heuristicRouter(), nil)
	st := domain.NewVerificationState()
	engine.Step(context.Background(), st, "555-1234")
	for _, wrong := range []string{"0000", "1111", "2222"} {
		engine.Step(context.Background(), st, wrong)
	}

	// Even the correct answer changes nothing once locked out.
	for _, text := range []string{"1234", "555-1234", "help"} {
		res := engine.Step(context.Background(), st, text)
		if res.NextAction != ActionLockedOut {
			t.Fatalf("input %q: expected locked_out, got %s", text, res.NextAction)
		}
		if st.Stage != domain.StageLockedOut || st.FailedAttempts != domain.MaxVerificationAttempts {
			t.Fatalf("lockout state mutated by %q: %+v", text, st)
		}
	}
}

func TestFailedLookupDoesNotConsumeBudget(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeDirectory{}, heuristicRouter(), nil)
	st := domain.NewVerificationState()

	for i := 0; i < 5; i++ {
		res := engine.Step(context.Background(), st, "999-0000")
		if res.NextAction != ActionNotFound {
			t.Fatalf("expected not_found, got %s", res.NextAction)
		}
	}
	if st.FailedAttempts != 0 {
		t.Fatalf("failed lookups consumed attempt budget: %d", st.FailedAttempts)
	}
	if st.Stage != domain.StageAnonymous {
		t.Fatalf("expected to remain anonymous, got %s", st.Stage)
	}
}

func TestAnswerBeforeLookupIsMisuse(t *testing.T) {
	t.Parallel()

	router := RouterFunc(func(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error) {
		return ToolCall{Kind: ToolVerifyFactor, Answer: text}, nil
	})
	engine := NewEngine(&fakeDirectory{}, router, nil)
	st := domain.NewVerificationState()

	res := engine.Step(context.Background(), st, "1234")
	if res.NextAction != ActionError {
		t.Fatalf("expected error action, got %s", res.NextAction)
	}
	if st.FailedAttempts != 0 || st.Stage != domain.StageAnonymous {
		t.Fatalf("misuse mutated state: %+v", st)
	}
}

func TestUnresolvedRoutingMakesNoProgress(t *testing.T) {
	t.Parallel()

	router := RouterFunc(func(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error) {
		return ToolCall{}, errors.New("model unavailable")
	})
	engine := NewEngine(&fakeDirectory{}, router, nil)
	st := domain.NewVerificationState()
	st.Stage = domain.StageVerifying
	st.CandidateIdentifier = "555-1234"
	st.FailedAttempts = 2

	res := engine.Step(context.Background(), st, "anything")
	if res.NextAction != ActionError {
		t.Fatalf("expected error action, got %s", res.NextAction)
	}
	if st.FailedAttempts != 2 {
		t.Fatalf("routing failure consumed attempt budget: %d", st.FailedAttempts)
	}
}

func TestSecondLookupDoesNotReplaceCandidate(t *testing.T) {
	t.Parallel()

	router := RouterFunc(func(ctx context.Context, stage domain.VerificationStage, text string) (ToolCall, error) {
		return ToolCall{Kind: ToolLookup, Identifier: text}, nil
	})
	engine := NewEngine(&fakeDirectory{}, router, nil)
	st := domain.NewVerificationState()

	engine.Step(context.Background(), st, "555-1234")
	res := engine.Step(context.Background(), st, "555-9999")
	if res.NextAction != ActionError {
		t.Fatalf("expected error action for second lookup, got %s", res.NextAction)
	}
	if st.CandidateIdentifier != "555-1234" {
		t.Fatalf("candidate identifier was replaced: %s", st.CandidateIdentifier)
	}
}

func TestMultiFactorPolicyAsksForSecondFactor(t *testing.T) {
	t.Parallel()

	twoFactors := func(verified []string) bool { return len(verified) >= 2 }
	engine := NewEngine(&fakeDirectory{}, heuristicRouter(), twoFactors)
	st := domain.NewVerificationState()
	engine.Step(context.Background(), st, "555-1234")

	res := engine.Step(context.Background(), st, "1234")
	if res.NextAction != ActionAskNextFactor {
		t.Fatalf("expected ask_next_factor after first factor, got %s", res.NextAction)
	}
	if !strings.Contains(res.Message, "date of birth") {
		t.Fatalf("expected DOB prompt, got %q", res.Message)
	}

	res = engine.Step(context.Background(), st, "1990-04-02")
	if !res.Verified || st.Stage != domain.StageAuthenticated {
		t.Fatalf("expected authentication after second factor, got %+v", res)
	}
	if len(st.VerifiedFactors) != 2 {
		t.Fatalf("expected two verified factors, got %v", st.VerifiedFactors)
	}
}

func TestDirectoryErrorMakesNoProgress(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{verifyErr: errors.New("directory unavailable")}
	engine := NewEngine(dir, heuristicRouter(), nil)
	st := domain.NewVerificationState()
	st.Stage = domain.StageVerifying
	st.CandidateIdentifier = "555-1234"

	res := engine.Step(context.Background(), st, "1234")
	if res.NextAction != ActionError {
		t.Fatalf("expected error action, got %s", res.NextAction)
	}
	if st.FailedAttempts != 0 {
		t.Fatalf("infrastructure error consumed attempt budget: %d", st.FailedAttempts)
	}
}
