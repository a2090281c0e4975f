package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/attachment"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/conversation"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	attachmentFolder      = "messages"
	defaultOpeningMessage = "Appointment confirmed. You can now communicate with your doctor."
	attachmentLinkTTL     = 15 * time.Minute

	DefaultThreadPageSize = 50
	MaxThreadPageSize     = 200
)

var messagingAppointmentStatuses = map[string]struct{}{
	models.AppointmentStatusConfirmed: {},
	"completed":                       {},
}

type messageStore interface {
	Append(ctx context.Context, input repository.AppendMessageInput) (*models.Message, error)
	ListByPair(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
	ListByPairSince(ctx context.Context, key models.ConversationKey, sinceID string) ([]models.Message, error)
	ListPage(ctx context.Context, key models.ConversationKey, query repository.PageQuery) ([]models.Message, bool, error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	MarkMessageRead(ctx context.Context, id string, viewerType models.SenderType) (int64, error)
	ListForViewer(ctx context.Context, viewerID string, viewerType models.SenderType) ([]models.Message, error)
	MarkPairRead(ctx context.Context, key models.ConversationKey, viewerType models.SenderType) (int64, error)
	CountUnreadForViewer(ctx context.Context, viewerID string, viewerType models.SenderType) (int, error)
}

type conversationHeaderReader interface {
	ListHeadersForViewer(ctx context.Context, viewerID string, viewerType models.SenderType) ([]models.ConversationHeader, error)
}

type appointmentReader interface {
	GetByID(ctx context.Context, appointmentID string) (*models.Appointment, error)
}

// EventPublisher announces that a conversation changed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.ConversationEvent) error
}

type ChatService struct {
	messageRepo        messageStore
	conversationRepo   conversationHeaderReader
	appointmentRepo    appointmentReader
	storageService     StorageService
	publisher          EventPublisher
	logger             *zap.Logger
	maxAttachmentBytes int64
	now                func() time.Time
}

// AttachmentUpload is a file that still has to be stored.
type AttachmentUpload struct {
	File     io.Reader
	Filename string
	Size     int64
}

type SendMessageInput struct {
	DoctorID      string
	PatientID     string
	AppointmentID *string
	SenderType    models.SenderType
	Text          string
	Attachment    *AttachmentUpload
	// AttachmentURL references a file uploaded earlier through UploadAttachment.
	AttachmentURL string
}

// ThreadPageQuery bounds a thread read. Since and Before are message ids and
// at most one may be set. A zero Limit means DefaultThreadPageSize.
type ThreadPageQuery struct {
	Since  string
	Before string
	Limit  int
}

type ThreadPage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// AttachmentLink is a short-lived URL for a message attachment.
type AttachmentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewChatService(
	messageRepo messageStore,
	conversationRepo conversationHeaderReader,
	appointmentRepo appointmentReader,
	storageService StorageService,
	publisher EventPublisher,
	logger *zap.Logger,
	maxAttachmentBytes int64,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = attachment.MaxSize
	}
	return &ChatService{
		messageRepo:        messageRepo,
		conversationRepo:   conversationRepo,
		appointmentRepo:    appointmentRepo,
		storageService:     storageService,
		publisher:          publisher,
		logger:             logger,
		maxAttachmentBytes: maxAttachmentBytes,
		now:                time.Now,
	}
}

func (s *ChatService) ListConversations(ctx context.Context, actor models.Actor) ([]models.Conversation, error) {
	if !actor.Type.Valid() || actor.ID == "" {
		return nil, ErrForbidden
	}

	headers, err := s.conversationRepo.ListHeadersForViewer(ctx, actor.ID, actor.Type)
	if err != nil {
		return nil, persistenceError("list conversation headers", err)
	}
	messages, err := s.messageRepo.ListForViewer(ctx, actor.ID, actor.Type)
	if err != nil {
		return nil, persistenceError("list viewer messages", err)
	}

	return conversation.Build(headers, messages, actor.Type), nil
}

func (s *ChatService) UnreadCount(ctx context.Context, actor models.Actor) (int, error) {
	if !actor.Type.Valid() || actor.ID == "" {
		return 0, ErrForbidden
	}

	count, err := s.messageRepo.CountUnreadForViewer(ctx, actor.ID, actor.Type)
	if err != nil {
		return 0, persistenceError("count unread", err)
	}
	return count, nil
}

// FetchThread returns the pair's messages in (createdAt, id) order. It never
// changes read state.
func (s *ChatService) FetchThread(
	ctx context.Context,
	actor models.Actor,
	doctorID string,
	patientID string,
) ([]models.Message, error) {
	key := models.NewConversationKey(doctorID, patientID)
	if err := authorizeParticipant(actor, key); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByPair(ctx, key)
	if err != nil {
		return nil, persistenceError("list thread", err)
	}
	conversation.SortThread(messages)
	return messages, nil
}

// FetchThreadSince returns only the messages ordered after sinceID.
func (s *ChatService) FetchThreadSince(
	ctx context.Context,
	actor models.Actor,
	doctorID string,
	patientID string,
	sinceID string,
) ([]models.Message, error) {
	sinceID = strings.TrimSpace(sinceID)
	if sinceID == "" {
		return s.FetchThread(ctx, actor, doctorID, patientID)
	}

	key := models.NewConversationKey(doctorID, patientID)
	if err := authorizeParticipant(actor, key); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByPairSince(ctx, key, sinceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationError("unknown cursor")
		}
		return nil, persistenceError("list thread since", err)
	}
	conversation.SortThread(messages)
	return messages, nil
}

// FetchThreadPage returns at most query.Limit messages in (createdAt, id)
// order. Without Since the page holds the newest messages, before Before when
// set, and HasMore reports older history. With Since it holds the oldest
// messages after the cursor and HasMore reports newer ones.
func (s *ChatService) FetchThreadPage(
	ctx context.Context,
	actor models.Actor,
	doctorID string,
	patientID string,
	query ThreadPageQuery,
) (*ThreadPage, error) {
	key := models.NewConversationKey(doctorID, patientID)
	if err := authorizeParticipant(actor, key); err != nil {
		return nil, err
	}

	since := strings.TrimSpace(query.Since)
	before := strings.TrimSpace(query.Before)
	if since != "" && before != "" {
		return nil, validationError("use either since or before")
	}
	switch {
	case query.Limit < 0:
		return nil, validationError("limit must be positive")
	case query.Limit == 0:
		query.Limit = DefaultThreadPageSize
	case query.Limit > MaxThreadPageSize:
		query.Limit = MaxThreadPageSize
	}

	messages, hasMore, err := s.messageRepo.ListPage(ctx, key, repository.PageQuery{
		AfterID:  since,
		BeforeID: before,
		Limit:    query.Limit,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationError("unknown cursor")
		}
		return nil, persistenceError("list thread page", err)
	}
	conversation.SortThread(messages)
	return &ThreadPage{Messages: messages, HasMore: hasMore}, nil
}

// MarkRead marks every message the actor received in the thread as read.
// Repeated calls are no-ops.
func (s *ChatService) MarkRead(
	ctx context.Context,
	actor models.Actor,
	doctorID string,
	patientID string,
) error {
	key := models.NewConversationKey(doctorID, patientID)
	if err := authorizeParticipant(actor, key); err != nil {
		return err
	}

	changed, err := s.messageRepo.MarkPairRead(ctx, key, actor.Type)
	if err != nil {
		return persistenceError("mark read", err)
	}
	if changed > 0 {
		s.publish(ctx, models.EventConversationRead, key, "")
	}
	return nil
}

// MarkMessageRead marks one message the actor received as read. Marking an
// already read message is a no-op.
func (s *ChatService) MarkMessageRead(ctx context.Context, actor models.Actor, messageID string) (*models.Message, error) {
	message, err := s.participantMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderType != actor.Type.Counterpart() {
		return nil, ErrForbidden
	}
	if message.IsRead {
		return message, nil
	}

	changed, err := s.messageRepo.MarkMessageRead(ctx, message.ID, actor.Type)
	if err != nil {
		return nil, persistenceError("mark message read", err)
	}
	if changed > 0 {
		readAt := s.now()
		message.IsRead = true
		message.ReadAt = &readAt
		s.publish(ctx, models.EventConversationRead, message.Key(), message.ID)
	}
	return message, nil
}

// AttachmentLink issues a short-lived URL for the attachment of a message in
// one of the actor's threads.
func (s *ChatService) AttachmentLink(ctx context.Context, actor models.Actor, messageID string) (*AttachmentLink, error) {
	message, err := s.participantMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if message.AttachmentURL == nil || *message.AttachmentURL == "" {
		return nil, validationError("message has no attachment")
	}
	if s.storageService == nil {
		return nil, ErrStorageUnavailable
	}

	signed, err := s.storageService.SignedURL(ctx, *message.AttachmentURL, attachmentLinkTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: sign url: %w", ErrAttachment, err)
	}
	return &AttachmentLink{URL: signed, ExpiresAt: s.now().Add(attachmentLinkTTL)}, nil
}

func (s *ChatService) participantMessage(ctx context.Context, actor models.Actor, messageID string) (*models.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, validationError("messageId is required")
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, persistenceError("get message", err)
	}
	if err := authorizeParticipant(actor, message.Key()); err != nil {
		if errors.Is(err, ErrForbidden) {
			// Messages of other pairs are not disclosed.
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return message, nil
}

// SendMessage validates, stores the attachment if any, and appends the
// message. An attachment that cannot be stored aborts the send; a message
// that cannot be stored removes its uploaded attachment.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actor models.Actor,
	input SendMessageInput,
) (*models.Message, error) {
	key := models.NewConversationKey(input.DoctorID, input.PatientID)
	if !key.Valid() {
		return nil, validationError("doctorId and patientId are required")
	}
	if !input.SenderType.Valid() {
		return nil, validationError("senderType must be doctor or patient")
	}
	if actor.Type != input.SenderType {
		return nil, ErrForbidden
	}
	if err := authorizeParticipant(actor, key); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(input.Text)
	attachmentURL := strings.TrimSpace(input.AttachmentURL)
	if text == "" && input.Attachment == nil && attachmentURL == "" {
		return nil, validationError("message text or attachment is required")
	}
	if input.Attachment != nil && attachmentURL != "" {
		return nil, validationError("send either a file or an attachmentUrl")
	}

	appointmentID, err := s.checkAppointment(ctx, key, input.AppointmentID)
	if err != nil {
		return nil, err
	}

	var content models.MessageContent
	var uploaded *StoredObject
	switch {
	case input.Attachment != nil:
		uploaded, err = s.UploadAttachment(ctx, *input.Attachment)
		if err != nil {
			return nil, err
		}
		content, err = models.NewAttachmentContent(attachment.Classify(input.Attachment.Filename), uploaded.URL, text)
	case attachmentURL != "":
		content, err = models.NewAttachmentContent(attachment.ClassifyURL(attachmentURL), attachmentURL, text)
	default:
		content, err = models.NewTextContent(text)
	}
	if err != nil {
		return nil, s.discardUpload(ctx, uploaded, validationError(err.Error()))
	}

	message, err := s.messageRepo.Append(ctx, repository.AppendMessageInput{
		Key:           key,
		AppointmentID: appointmentID,
		SenderType:    input.SenderType,
		Content:       content,
	})
	if err != nil {
		return nil, s.discardUpload(ctx, uploaded, persistenceError("append message", err))
	}

	s.publish(ctx, models.EventConversationUpdated, key, message.ID)
	return message, nil
}

// UploadAttachment checks the size limit and stores the file. The returned
// object can be referenced later through SendMessageInput.AttachmentURL.
func (s *ChatService) UploadAttachment(ctx context.Context, upload AttachmentUpload) (*StoredObject, error) {
	if err := attachment.Validate(upload.Size, s.maxAttachmentBytes); err != nil {
		if errors.Is(err, attachment.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrAttachmentTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrAttachment, err)
	}
	if upload.File == nil || strings.TrimSpace(upload.Filename) == "" {
		return nil, fmt.Errorf("%w: file and filename are required", ErrAttachment)
	}
	if s.storageService == nil {
		return nil, ErrStorageUnavailable
	}

	stored, err := s.storageService.UploadFile(ctx, upload.File, buildAttachmentFilename(upload.Filename), attachmentFolder)
	if err != nil {
		return nil, fmt.Errorf("%w: upload: %w", ErrAttachment, err)
	}
	return stored, nil
}

// OpenConversation posts the system greeting for an appointment so that the
// pair shows up in both participants' conversation lists.
func (s *ChatService) OpenConversation(
	ctx context.Context,
	actor models.Actor,
	appointmentID string,
	text string,
) (*models.Message, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return nil, validationError("appointmentId is required")
	}

	appointment, err := s.appointmentRepo.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, persistenceError("get appointment", err)
	}

	key := models.NewConversationKey(appointment.DoctorID, appointment.PatientID)
	if err := authorizeParticipant(actor, key); err != nil {
		return nil, err
	}
	if appointment.Status != models.AppointmentStatusConfirmed {
		return nil, ErrAppointmentNotConfirmed
	}

	if strings.TrimSpace(text) == "" {
		text = defaultOpeningMessage
	}
	content, err := models.NewTextContent(text)
	if err != nil {
		return nil, validationError(err.Error())
	}

	message, err := s.messageRepo.Append(ctx, repository.AppendMessageInput{
		Key:           key,
		AppointmentID: &appointment.ID,
		SenderType:    models.SenderSystem,
		Content:       content,
	})
	if err != nil {
		return nil, persistenceError("append opening message", err)
	}

	s.publish(ctx, models.EventConversationUpdated, key, message.ID)
	return message, nil
}

func (s *ChatService) checkAppointment(
	ctx context.Context,
	key models.ConversationKey,
	appointmentID *string,
) (*string, error) {
	if appointmentID == nil || strings.TrimSpace(*appointmentID) == "" {
		return nil, nil
	}
	id := strings.TrimSpace(*appointmentID)

	appointment, err := s.appointmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, persistenceError("get appointment", err)
	}
	if appointment.DoctorID != key.DoctorID || appointment.PatientID != key.PatientID {
		return nil, validationError("appointment does not belong to this conversation")
	}
	if _, ok := messagingAppointmentStatuses[appointment.Status]; !ok {
		return nil, ErrAppointmentNotConfirmed
	}
	return &id, nil
}

func (s *ChatService) discardUpload(ctx context.Context, uploaded *StoredObject, cause error) error {
	if uploaded == nil {
		return cause
	}
	if err := s.storageService.DeleteFile(ctx, uploaded.URL); err != nil {
		return errors.Join(cause, fmt.Errorf("cleanup failed: %w", err))
	}
	return cause
}

func (s *ChatService) publish(ctx context.Context, eventType string, key models.ConversationKey, messageID string) {
	if s.publisher == nil {
		return
	}
	event := models.NewConversationEvent(eventType, key, messageID, s.now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish conversation event",
			zap.String("type", eventType),
			zap.String("conversation", key.String()),
			zap.Error(err),
		)
	}
}

func authorizeParticipant(actor models.Actor, key models.ConversationKey) error {
	if !key.Valid() {
		return validationError("doctorId and patientId are required")
	}
	switch actor.Type {
	case models.SenderDoctor:
		if actor.ID == key.DoctorID {
			return nil
		}
	case models.SenderPatient:
		if actor.ID == key.PatientID {
			return nil
		}
	}
	return ErrForbidden
}

func buildAttachmentFilename(original string) string {
	ext := attachment.Extension(original)
	if ext == "" {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}
