package conversation

import (
	"sort"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

// Summary is the message-derived part of a conversation.
type Summary struct {
	LastMessage     string
	LastMessageID   string
	LastMessageTime *time.Time
	UnreadCount     int
}

// Less orders messages by creation time, breaking ties by id.
func Less(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortThread sorts messages in place into thread order.
func SortThread(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return Less(&messages[i], &messages[j])
	})
}

// Summarize computes the summary of a single pair's messages for viewer.
// Unread counts only messages the viewer did not send.
func Summarize(messages []models.Message, viewer models.SenderType) Summary {
	var summary Summary
	var last *models.Message
	for i := range messages {
		message := &messages[i]
		if message.SenderType != viewer && !message.IsRead {
			summary.UnreadCount++
		}
		if last == nil || Less(last, message) {
			last = message
		}
	}

	if last != nil {
		createdAt := last.CreatedAt
		summary.LastMessage = last.Message
		summary.LastMessageID = last.ID
		summary.LastMessageTime = &createdAt
	}
	return summary
}

// Build joins pair headers with the viewer's messages. Pairs without any
// message are dropped, messages without a header get a placeholder header.
func Build(
	headers []models.ConversationHeader,
	messages []models.Message,
	viewer models.SenderType,
) []models.Conversation {
	byKey := make(map[models.ConversationKey][]models.Message)
	order := make([]models.ConversationKey, 0)
	for _, message := range messages {
		key := message.Key()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], message)
	}

	headerByKey := make(map[models.ConversationKey]models.ConversationHeader, len(headers))
	for _, header := range headers {
		headerByKey[models.ConversationKey{DoctorID: header.DoctorID, PatientID: header.PatientID}] = header
	}

	conversations := make([]models.Conversation, 0, len(order))
	for _, key := range order {
		header, ok := headerByKey[key]
		if !ok {
			header = placeholderHeader(key)
		}
		summary := Summarize(byKey[key], viewer)
		conversations = append(conversations, models.Conversation{
			DoctorID:          key.DoctorID,
			DoctorName:        header.DoctorName,
			Specialization:    header.Specialization,
			PatientID:         key.PatientID,
			PatientName:       header.PatientName,
			AppointmentID:     header.AppointmentID,
			AppointmentStatus: header.AppointmentStatus,
			UnreadCount:       summary.UnreadCount,
			LastMessage:       summary.LastMessage,
			LastMessageID:     summary.LastMessageID,
			LastMessageTime:   summary.LastMessageTime,
		})
	}

	SortConversations(conversations)
	return conversations
}

// SortConversations orders by last message time descending. Conversations
// without a last message go last; remaining ties fall back to the pair key.
func SortConversations(conversations []models.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		switch {
		case a.LastMessageTime == nil && b.LastMessageTime == nil:
			return a.Key().String() < b.Key().String()
		case a.LastMessageTime == nil:
			return false
		case b.LastMessageTime == nil:
			return true
		case !a.LastMessageTime.Equal(*b.LastMessageTime):
			return a.LastMessageTime.After(*b.LastMessageTime)
		case a.LastMessageID != b.LastMessageID:
			return a.LastMessageID > b.LastMessageID
		default:
			return a.Key().String() < b.Key().String()
		}
	})
}

func placeholderHeader(key models.ConversationKey) models.ConversationHeader {
	return models.ConversationHeader{
		DoctorID:          key.DoctorID,
		DoctorName:        "Unknown Doctor",
		Specialization:    "General Medicine",
		PatientID:         key.PatientID,
		PatientName:       "Unknown Patient",
		AppointmentStatus: "completed",
	}
}
