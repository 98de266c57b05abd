package llm

import (
	"testing"

	"github.com/careline/concierge/internal/domain"
)

func TestExtractJSONFromText(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"a":1}`:                          `{"a":1}`,
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"Sure! Here you go: {\"a\":1} ok?": `{"a":1}`,
		"no json here":                     "no json here",
		"":                                 "",
	}
	for in, want := range cases {
		if got := extractJSONFromText(in); got != want {
			t.Fatalf("extractJSONFromText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	cl, err := parseClassification(`{"category":"account_question","confidence":0.92,"requires_auth":true,"reasoning":"asks for balance"}`)
	if err != nil {
		t.Fatalf("parseClassification failed: %v", err)
	}
	if cl.Category != domain.CategoryAccount || cl.Confidence != 0.92 || !cl.RequiresAuth {
		t.Fatalf("unexpected classification: %+v", cl)
	}

	if _, err := parseClassification(`{"category":"weird","confidence":0.5}`); err == nil {
		t.Fatalf("expected error for unknown category")
	}
	if _, err := parseClassification(`{"category":"general_question","confidence":1.5}`); err == nil {
		t.Fatalf("expected error for out-of-range confidence")
	}
	if _, err := parseClassification(`not json`); err == nil {
		t.Fatalf("expected error for non-json output")
	}
}

func TestFinalAnswerEscalationContract(t *testing.T) {
	t.Parallel()

	ans := finalAnswer("ESCALATE: needs a payment plan review")
	if ans.Resolved {
		t.Fatalf("escalation marker must mean unresolved")
	}
	if ans.Text != "needs a payment plan review" {
		t.Fatalf("unexpected reason text: %q", ans.Text)
	}

	ans = finalAnswer("Your balance is $42.")
	if !ans.Resolved || ans.Text != "Your balance is $42." {
		t.Fatalf("unexpected answer: %+v", ans)
	}

	if finalAnswer("   ").Resolved {
		t.Fatalf("empty output must be unresolved")
	}
}

func TestApprovalBatchKeepsRequestOrder(t *testing.T) {
	t.Parallel()

	b := &approvalBatch{calls: map[int64]toolCallInfo{
		3: {toolName: "update_contact_info"},
		1: {toolName: "submit_payment"},
	}, order: []int64{1, 3}}

	reqs := b.requests()
	if len(reqs) != 2 || reqs[0].RequestID != 1 || reqs[1].RequestID != 3 {
		t.Fatalf("unexpected ordering: %+v", reqs)
	}
	if reqs[0].ToolName != "submit_payment" {
		t.Fatalf("unexpected tool: %+v", reqs[0])
	}
}
