package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `
	id, doctor_id, patient_id, appointment_id, sender_type, message,
	message_type, attachment_url, is_read, read_at, created_at
`

type MessageRepository struct {
	db DBTX
}

type AppendMessageInput struct {
	Key           models.ConversationKey
	AppointmentID *string
	SenderType    models.SenderType
	Content       models.MessageContent
}

// PageQuery selects a bounded slice of a thread. With AfterID the page holds
// the oldest messages after that cursor. Otherwise it holds the newest
// messages, before BeforeID when set.
type PageQuery struct {
	AfterID  string
	BeforeID string
	Limit    int
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append stores a new message. The id is a version 7 UUID so that ids sort in
// creation order. System messages have no recipient and are stored as read.
func (r *MessageRepository) Append(ctx context.Context, input AppendMessageInput) (*models.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var attachmentURL *string
	if url := input.Content.AttachmentURL(); url != "" {
		attachmentURL = &url
	}

	query := `
		INSERT INTO doctor_patient_messages (
			id, doctor_id, patient_id, appointment_id, sender_type, message,
			message_type, attachment_url, is_read, read_at, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9::boolean,
			CASE WHEN $9::boolean THEN ts.at END, ts.at
		FROM (SELECT clock_timestamp() AS at) AS ts
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(
		ctx,
		query,
		id.String(),
		input.Key.DoctorID,
		input.Key.PatientID,
		input.AppointmentID,
		string(input.SenderType),
		input.Content.Text(),
		string(input.Content.Type()),
		attachmentURL,
		input.SenderType == models.SenderSystem,
	))
}

// GetByID returns pgx.ErrNoRows for an unknown id.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM doctor_patient_messages
		WHERE id = $1
	`
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

func (r *MessageRepository) ListByPair(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM doctor_patient_messages
		WHERE doctor_id = $1 AND patient_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, key.DoctorID, key.PatientID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListByPairSince returns the messages that sort strictly after sinceID. An
// unknown cursor returns pgx.ErrNoRows.
func (r *MessageRepository) ListByPairSince(
	ctx context.Context,
	key models.ConversationKey,
	sinceID string,
) ([]models.Message, error) {
	cursorAt, err := r.cursorTime(ctx, key, sinceID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM doctor_patient_messages
		WHERE doctor_id = $1
		  AND patient_id = $2
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, key.DoctorID, key.PatientID, cursorAt, sinceID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListPage returns at most query.Limit messages in (created_at, id) ascending
// order and whether more messages lie beyond the page in the direction read.
// An unknown cursor returns pgx.ErrNoRows.
func (r *MessageRepository) ListPage(
	ctx context.Context,
	key models.ConversationKey,
	query PageQuery,
) ([]models.Message, bool, error) {
	if query.Limit <= 0 {
		return nil, false, fmt.Errorf("page limit must be positive")
	}
	if query.AfterID != "" && query.BeforeID != "" {
		return nil, false, fmt.Errorf("page accepts either an after or a before cursor")
	}

	args := []any{key.DoctorID, key.PatientID}
	cursorClause := ""
	order := "DESC"
	switch {
	case query.AfterID != "":
		cursorAt, err := r.cursorTime(ctx, key, query.AfterID)
		if err != nil {
			return nil, false, err
		}
		cursorClause = "AND (created_at, id) > ($3, $4)"
		order = "ASC"
		args = append(args, cursorAt, query.AfterID)
	case query.BeforeID != "":
		cursorAt, err := r.cursorTime(ctx, key, query.BeforeID)
		if err != nil {
			return nil, false, err
		}
		cursorClause = "AND (created_at, id) < ($3, $4)"
		args = append(args, cursorAt, query.BeforeID)
	}
	args = append(args, query.Limit+1)

	sql := fmt.Sprintf(`
		SELECT %s
		FROM doctor_patient_messages
		WHERE doctor_id = $1
		  AND patient_id = $2
		  %s
		ORDER BY created_at %s, id %s
		LIMIT $%d
	`, messageColumns, cursorClause, order, order, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, false, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > query.Limit
	if hasMore {
		messages = messages[:query.Limit]
	}
	if order == "DESC" {
		slices.Reverse(messages)
	}
	return messages, hasMore, nil
}

func (r *MessageRepository) cursorTime(ctx context.Context, key models.ConversationKey, id string) (time.Time, error) {
	var cursorAt time.Time
	err := r.db.QueryRow(ctx, `
		SELECT created_at
		FROM doctor_patient_messages
		WHERE id = $1 AND doctor_id = $2 AND patient_id = $3
	`, id, key.DoctorID, key.PatientID).Scan(&cursorAt)
	return cursorAt, err
}

// ListForViewer returns every message of every pair the viewer takes part in.
func (r *MessageRepository) ListForViewer(
	ctx context.Context,
	viewerID string,
	viewerType models.SenderType,
) ([]models.Message, error) {
	column, err := participantColumn(viewerType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM doctor_patient_messages
		WHERE ` + column + ` = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkPairRead marks the viewer's incoming messages of a pair as read and
// reports how many rows changed. Already read rows keep their read_at.
func (r *MessageRepository) MarkPairRead(
	ctx context.Context,
	key models.ConversationKey,
	viewerType models.SenderType,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE doctor_patient_messages
		SET is_read = TRUE, read_at = NOW()
		WHERE doctor_id = $1
		  AND patient_id = $2
		  AND sender_type <> $3
		  AND is_read = FALSE
	`, key.DoctorID, key.PatientID, string(viewerType))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkMessageRead marks a single message the viewer received as read. It
// reports 0 when the message was already read.
func (r *MessageRepository) MarkMessageRead(
	ctx context.Context,
	id string,
	viewerType models.SenderType,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE doctor_patient_messages
		SET is_read = TRUE, read_at = NOW()
		WHERE id = $1
		  AND sender_type <> $2
		  AND is_read = FALSE
	`, id, string(viewerType))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) CountUnreadForViewer(
	ctx context.Context,
	viewerID string,
	viewerType models.SenderType,
) (int, error) {
	column, err := participantColumn(viewerType)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM doctor_patient_messages
		WHERE `+column+` = $1
		  AND sender_type <> $2
		  AND is_read = FALSE
	`, viewerID, string(viewerType)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func participantColumn(viewerType models.SenderType) (string, error) {
	switch viewerType {
	case models.SenderDoctor:
		return "doctor_id", nil
	case models.SenderPatient:
		return "patient_id", nil
	default:
		return "", fmt.Errorf("unsupported viewer type %q", viewerType)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads one row and rejects rows whose body does not form valid
// message content.
func scanMessage(row rowScanner) (*models.Message, error) {
	var message models.Message
	var senderType string
	var messageType string
	if err := row.Scan(
		&message.ID,
		&message.DoctorID,
		&message.PatientID,
		&message.AppointmentID,
		&senderType,
		&message.Message,
		&messageType,
		&message.AttachmentURL,
		&message.IsRead,
		&message.ReadAt,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}
	message.SenderType = models.SenderType(senderType)
	message.MessageType = models.MessageType(messageType)

	if _, err := message.Content(); err != nil {
		return nil, fmt.Errorf("message %s: %w", message.ID, err)
	}
	return &message, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
