package messagequeue

import "time"

// ReviewEventPayload is the schema for reviews.* messages.
type ReviewEventPayload struct {
	QueryID         string    `json:"query_id"`
	ConversationID  string    `json:"conversation_id"`
	ExpertID        string    `json:"expert_id,omitempty"`
	EscalationLevel int       `json:"escalation_level"`
	Deadline        time.Time `json:"deadline,omitempty"`
	At              time.Time `json:"at"`
}

// ReminderPayload is the schema for reviews.reminder messages.
type ReminderPayload struct {
	ExpertID        string    `json:"expert_id"`
	ExpertChannelID string    `json:"expert_channel_id,omitempty"`
	QueryID         string    `json:"query_id"`
	QuestionText    string    `json:"question_text"`
	EscalationLevel int       `json:"escalation_level"`
	Tier            int       `json:"tier"`
	At              time.Time `json:"at"`
}

// DeliveredPayload is the schema for answers.delivered messages.
type DeliveredPayload struct {
	QueryID        string    `json:"query_id"`
	ConversationID string    `json:"conversation_id"`
	Representation string    `json:"representation"`
	TemplateName   string    `json:"template_name,omitempty"`
	Outcome        string    `json:"outcome"`
	At             time.Time `json:"at"`
}

// CorrectionPayload is the schema for corrections.recorded messages.
type CorrectionPayload struct {
	CorrectionID string    `json:"correction_id"`
	QueryID      string    `json:"query_id"`
	Outcome      string    `json:"outcome"`
	ExpertID     string    `json:"expert_id"`
	At           time.Time `json:"at"`
}
