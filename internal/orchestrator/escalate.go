package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careline/concierge/internal/domain"
)

const msgEscalated = "I've brought in our support team and shared the conversation so far. A human agent will take it from here."

// escalate packages the conversation for a human operator and emits it to
// the handoff sink. The user always gets the same acknowledgement; a
// summarizer failure degrades the package, never the turn.
func (o *Orchestrator) escalate(ctx context.Context, s *domain.ChatSession, triggeringText, reason string, now time.Time) domain.ChatResponse {
	sum, err := o.collab.Summarizer.Summarize(ctx, s.Transcript(), reason, triggeringText)
	if err != nil {
		slog.Warn("handoff summarization failed, emitting minimal package",
			"session_id", s.ID, "error", err)
		sum = Summary{
			Summary:          fmt.Sprintf("Summary unavailable. Escalated because: %s.", reason),
			EscalationReason: reason,
			OriginalQuestion: triggeringText,
		}
	}
	if sum.EscalationReason == "" {
		sum.EscalationReason = reason
	}

	history := make([]domain.Message, len(s.History))
	copy(history, s.History)

	pkg := &domain.HandoffPackage{
		ID:                  uuid.NewString(),
		SessionID:           s.ID,
		CustomerID:          s.UserContext.CustomerID,
		CustomerName:        s.UserContext.CustomerName,
		TriggeringText:      triggeringText,
		Reason:              sum.EscalationReason,
		Summary:             sum.Summary,
		OriginalQuestion:    sum.OriginalQuestion,
		SuggestedDepartment: sum.SuggestedDepartment,
		KeyFacts:            sum.KeyFacts,
		OpeningLine:         openingLine(s, sum),
		Duration:            s.Duration(now),
		History:             history,
		CreatedAt:           now,
	}

	slog.Info("conversation escalated",
		"session_id", s.ID,
		"handoff_id", pkg.ID,
		"reason", pkg.Reason,
		"turns", len(history))

	o.sink.Emit(pkg)

	return domain.ChatResponse{
		Message:        msgEscalated,
		Category:       domain.CategoryHuman,
		RequiredAction: domain.ActionNone,
	}
}

// openingLine gives the receiving agent a ready first sentence.
func openingLine(s *domain.ChatSession, sum Summary) string {
	name := s.UserContext.CustomerName
	if name == "" {
		name = "the customer"
	}
	if sum.OriginalQuestion != "" {
		return fmt.Sprintf("Hi, I'm taking over from our assistant to help %s with: %s", name, sum.OriginalQuestion)
	}
	return fmt.Sprintf("Hi, I'm taking over from our assistant to help %s.", name)
}
