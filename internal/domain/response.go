package domain

// Category is the intent classification bucket a user message falls into.
type Category string

const (
	// CategoryGeneral covers knowledge-base questions answerable without
	// account access.
	CategoryGeneral Category = "general_question"
	// CategoryAccount covers questions that need account-specific data and
	// therefore a verified identity.
	CategoryAccount Category = "account_question"
	// CategoryHuman covers complex requests and explicit asks for a person.
	CategoryHuman Category = "human_request"
	// CategoryOutOfScope is the deliberate fallback bucket, including
	// under-confident classifications.
	CategoryOutOfScope Category = "out_of_scope"
	// CategoryUnknown marks turns the classifier could not parse at all.
	CategoryUnknown Category = "unknown"
)

// RequiredAction tells the caller what, if anything, the conversation needs
// next.
type RequiredAction string

const (
	// ActionNone means the turn is complete.
	ActionNone RequiredAction = "none"
	// ActionAuthInProgress means the next user message feeds the
	// verification sub-flow.
	ActionAuthInProgress RequiredAction = "authentication_in_progress"
	// ActionAuthFailed means verification ended in lockout.
	ActionAuthFailed RequiredAction = "authentication_failed"
	// ActionClarify means the message could not be acted on and the user
	// should rephrase.
	ActionClarify RequiredAction = "clarification_needed"
)

// ChatResponse is the orchestrator's answer to one inbound message.
type ChatResponse struct {
	Message            string         `json:"message"`
	Category           Category       `json:"category"`
	RequiredAction     RequiredAction `json:"required_action"`
	SuggestedFollowUps []string       `json:"suggested_follow_ups,omitempty"`
}
