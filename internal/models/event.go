package models

import "time"

const (
	EventConversationUpdated = "conversation.updated"
	EventConversationRead    = "conversation.read"
)

// ConversationEvent tells participants of a pair that their view is stale.
type ConversationEvent struct {
	Type      string `json:"type"`
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewConversationEvent(eventType string, key ConversationKey, messageID string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      eventType,
		DoctorID:  key.DoctorID,
		PatientID: key.PatientID,
		MessageID: messageID,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

func (e ConversationEvent) Key() ConversationKey {
	return ConversationKey{DoctorID: e.DoctorID, PatientID: e.PatientID}
}
