package models

import (
	"strings"
	"time"
)

type SenderType string

const (
	SenderDoctor  SenderType = "doctor"
	SenderPatient SenderType = "patient"
	SenderSystem  SenderType = "system"
)

func (s SenderType) Valid() bool {
	return s == SenderDoctor || s == SenderPatient
}

// Counterpart is the participant type that receives messages sent by s. It is
// empty for system and unknown senders.
func (s SenderType) Counterpart() SenderType {
	switch s {
	case SenderDoctor:
		return SenderPatient
	case SenderPatient:
		return SenderDoctor
	default:
		return ""
	}
}

type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypePrescription MessageType = "prescription"
	MessageTypeFile         MessageType = "file"
)

// ConversationKey identifies a doctor-patient thread. Both ids are trimmed so
// that the same pair always produces the same key.
type ConversationKey struct {
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
}

func NewConversationKey(doctorID, patientID string) ConversationKey {
	return ConversationKey{
		DoctorID:  strings.TrimSpace(doctorID),
		PatientID: strings.TrimSpace(patientID),
	}
}

func (k ConversationKey) Valid() bool {
	return k.DoctorID != "" && k.PatientID != ""
}

func (k ConversationKey) String() string {
	return k.DoctorID + ":" + k.PatientID
}

type Message struct {
	ID            string      `json:"id"`
	DoctorID      string      `json:"doctorId"`
	PatientID     string      `json:"patientId"`
	AppointmentID *string     `json:"appointmentId,omitempty"`
	SenderType    SenderType  `json:"senderType"`
	Message       string      `json:"message"`
	MessageType   MessageType `json:"messageType"`
	AttachmentURL *string     `json:"attachmentUrl,omitempty"`
	IsRead        bool        `json:"isRead"`
	ReadAt        *time.Time  `json:"readAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (m *Message) Key() ConversationKey {
	return ConversationKey{DoctorID: m.DoctorID, PatientID: m.PatientID}
}

// Content rebuilds the typed content of a persisted message.
func (m *Message) Content() (MessageContent, error) {
	url := ""
	if m.AttachmentURL != nil {
		url = *m.AttachmentURL
	}
	if m.MessageType == MessageTypeText {
		return NewTextContent(m.Message)
	}
	return NewAttachmentContent(m.MessageType, url, m.Message)
}

// Conversation is the read-side projection of one doctor-patient pair as seen
// by a single viewer.
type Conversation struct {
	DoctorID          string     `json:"doctor_id"`
	DoctorName        string     `json:"doctor_name"`
	Specialization    string     `json:"specialization"`
	PatientID         string     `json:"patient_id"`
	PatientName       string     `json:"patient_name"`
	AppointmentID     *string    `json:"appointment_id,omitempty"`
	AppointmentStatus string     `json:"appointment_status"`
	UnreadCount       int        `json:"unread_count"`
	LastMessage       string     `json:"last_message"`
	LastMessageID     string     `json:"last_message_id,omitempty"`
	LastMessageTime   *time.Time `json:"last_message_time,omitempty"`
}

func (c *Conversation) Key() ConversationKey {
	return ConversationKey{DoctorID: c.DoctorID, PatientID: c.PatientID}
}

// ConversationHeader carries the participant metadata of a pair, without any
// message-derived fields.
type ConversationHeader struct {
	DoctorID          string
	DoctorName        string
	Specialization    string
	PatientID         string
	PatientName       string
	AppointmentID     *string
	AppointmentStatus string
}

type Appointment struct {
	ID        string    `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const AppointmentStatusConfirmed = "confirmed"

// Actor is the authenticated caller of a messaging operation.
type Actor struct {
	ID   string
	Type SenderType
}
