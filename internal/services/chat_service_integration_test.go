package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

type integrationPair struct {
	key           models.ConversationKey
	appointmentID string
	doctor        models.Actor
	patient       models.Actor
}

func TestChatServiceConversationFlow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service, storage := newIntegrationChatService(t, pool)
	pair := createTestPair(t, ctx, pool, "confirmed")

	// Scenario A: plain text from the patient.
	hello, err := service.SendMessage(ctx, pair.patient, SendMessageInput{
		DoctorID:   pair.key.DoctorID,
		PatientID:  pair.key.PatientID,
		SenderType: models.SenderPatient,
		Text:       "Hello",
	})
	if err != nil {
		t.Fatalf("SendMessage text: %v", err)
	}
	if hello.MessageType != models.MessageTypeText || hello.IsRead {
		t.Fatalf("unexpected message: %+v", hello)
	}

	// Scenarios B and C: attachments from the doctor.
	for _, filename := range []string{"xray.png", "report.pdf"} {
		if _, err := service.SendMessage(ctx, pair.doctor, SendMessageInput{
			DoctorID:   pair.key.DoctorID,
			PatientID:  pair.key.PatientID,
			SenderType: models.SenderDoctor,
			Attachment: &AttachmentUpload{File: strings.NewReader(filename), Filename: filename, Size: int64(len(filename))},
		}); err != nil {
			t.Fatalf("SendMessage %s: %v", filename, err)
		}
	}
	if _, err := service.SendMessage(ctx, pair.doctor, SendMessageInput{
		DoctorID:      pair.key.DoctorID,
		PatientID:     pair.key.PatientID,
		AppointmentID: &pair.appointmentID,
		SenderType:    models.SenderDoctor,
		Text:          "Take it twice a day",
	}); err != nil {
		t.Fatalf("SendMessage with appointment: %v", err)
	}

	thread, err := service.FetchThread(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID)
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	if len(thread) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(thread))
	}
	if thread[1].MessageType != models.MessageTypeImage || thread[1].Message != "Sent a image" {
		t.Fatalf("unexpected image message: %+v", thread[1])
	}
	if thread[2].MessageType != models.MessageTypePrescription {
		t.Fatalf("unexpected pdf message: %+v", thread[2])
	}
	for i := 1; i < len(thread); i++ {
		prev, cur := thread[i-1], thread[i]
		if cur.CreatedAt.Before(prev.CreatedAt) || (cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID) {
			t.Fatalf("thread out of order at %d", i)
		}
	}

	again, err := service.FetchThread(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID)
	if err != nil {
		t.Fatalf("FetchThread again: %v", err)
	}
	for i := range thread {
		if again[i].ID != thread[i].ID {
			t.Fatalf("FetchThread is not stable at %d", i)
		}
	}

	since, err := service.FetchThreadSince(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID, thread[1].ID)
	if err != nil {
		t.Fatalf("FetchThreadSince: %v", err)
	}
	if len(since) != 2 || since[0].ID != thread[2].ID {
		t.Fatalf("unexpected messages after cursor: %+v", since)
	}

	page, err := service.FetchThreadPage(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID, ThreadPageQuery{Before: thread[3].ID, Limit: 2})
	if err != nil {
		t.Fatalf("FetchThreadPage: %v", err)
	}
	if !page.HasMore || len(page.Messages) != 2 || page.Messages[0].ID != thread[1].ID || page.Messages[1].ID != thread[2].ID {
		t.Fatalf("unexpected page before cursor: %+v", page)
	}

	link, err := service.AttachmentLink(ctx, pair.doctor, thread[2].ID)
	if err != nil {
		t.Fatalf("AttachmentLink: %v", err)
	}
	if thread[2].AttachmentURL == nil || link.URL != *thread[2].AttachmentURL {
		t.Fatalf("unexpected attachment link %+v for %+v", link, thread[2])
	}

	conversations, err := service.ListConversations(ctx, pair.patient)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	summary := findConversation(conversations, pair.key)
	if summary == nil || summary.UnreadCount != 3 {
		t.Fatalf("expected 3 unread for patient, got %+v", summary)
	}
	if summary.AppointmentID == nil || *summary.AppointmentID != pair.appointmentID {
		t.Fatalf("expected appointment on header, got %+v", summary.AppointmentID)
	}

	// Scenario D: patient reads the thread, twice.
	for i := 0; i < 2; i++ {
		if err := service.MarkRead(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID); err != nil {
			t.Fatalf("MarkRead #%d: %v", i+1, err)
		}
	}
	conversations, err = service.ListConversations(ctx, pair.patient)
	if err != nil {
		t.Fatalf("ListConversations after read: %v", err)
	}
	if summary := findConversation(conversations, pair.key); summary == nil || summary.UnreadCount != 0 {
		t.Fatalf("expected 0 unread after MarkRead, got %+v", summary)
	}

	doctorUnread, err := service.UnreadCount(ctx, pair.doctor)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if doctorUnread != 1 {
		t.Fatalf("expected doctor to have 1 unread, got %d", doctorUnread)
	}

	// Scenario E: oversized attachment never reaches storage or the table.
	_, err = service.SendMessage(ctx, pair.patient, SendMessageInput{
		DoctorID:   pair.key.DoctorID,
		PatientID:  pair.key.PatientID,
		SenderType: models.SenderPatient,
		Attachment: &AttachmentUpload{File: strings.NewReader("x"), Filename: "scan.jpg", Size: 11 * 1024 * 1024},
	})
	if !errors.Is(err, ErrAttachmentTooLarge) {
		t.Fatalf("expected ErrAttachmentTooLarge, got %v", err)
	}
	after, err := service.FetchThread(ctx, pair.patient, pair.key.DoctorID, pair.key.PatientID)
	if err != nil {
		t.Fatalf("FetchThread after rejection: %v", err)
	}
	if len(after) != len(thread) {
		t.Fatalf("expected no message to be persisted, got %d", len(after))
	}

	entries, err := os.ReadDir(filepath.Join(storage.Dir(), attachmentFolder))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 stored attachments, got %d", len(entries))
	}
}

func TestChatServiceOpenConversation(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service, _ := newIntegrationChatService(t, pool)
	pair := createTestPair(t, ctx, pool, "confirmed")

	message, err := service.OpenConversation(ctx, pair.doctor, pair.appointmentID, "")
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if message.SenderType != models.SenderSystem {
		t.Fatalf("expected system message, got %q", message.SenderType)
	}

	conversations, err := service.ListConversations(ctx, pair.patient)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	summary := findConversation(conversations, pair.key)
	if summary == nil || summary.LastMessage != defaultOpeningMessage || summary.UnreadCount != 0 {
		t.Fatalf("unexpected conversation: %+v", summary)
	}
	if !message.IsRead {
		t.Fatalf("expected system message stored as read, got %+v", message)
	}
	if _, err := service.MarkMessageRead(ctx, pair.patient, message.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden marking a system message, got %v", err)
	}
}

func TestChatServiceRejectsUnconfirmedAppointment(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service, _ := newIntegrationChatService(t, pool)
	pair := createTestPair(t, ctx, pool, "pending")

	if _, err := service.OpenConversation(ctx, pair.patient, pair.appointmentID, ""); !errors.Is(err, ErrAppointmentNotConfirmed) {
		t.Fatalf("expected ErrAppointmentNotConfirmed, got %v", err)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationChatService(t *testing.T, pool *pgxpool.Pool) (*ChatService, *LocalStorageService) {
	t.Helper()

	storage := NewLocalStorageService(t.TempDir(), "http://localhost:8080")
	service := NewChatService(
		repository.NewMessageRepository(pool),
		repository.NewConversationRepository(pool),
		repository.NewAppointmentRepository(pool),
		storage,
		nil,
		nil,
		0,
	)
	return service, storage
}

func createTestPair(t *testing.T, ctx context.Context, pool *pgxpool.Pool, status string) integrationPair {
	t.Helper()

	suffix := uuid.NewString()
	doctorUserID := "du-" + suffix
	doctorID := "d-" + suffix
	patientID := "p-" + suffix
	appointmentID := "a-" + suffix

	statements := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, 'doctor')`, []any{doctorUserID, "Dr. Test", doctorUserID + "@example.com"}},
		{`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, 'patient')`, []any{patientID, "Patient Test", patientID + "@example.com"}},
		{`INSERT INTO doctors (id, user_id, specialization) VALUES ($1, $2, 'Cardiology')`, []any{doctorID, doctorUserID}},
		{`INSERT INTO appointments (id, doctor_id, patient_id, status) VALUES ($1, $2, $3, $4)`, []any{appointmentID, doctorID, patientID, status}},
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM doctor_patient_messages WHERE doctor_id = $1`, doctorID)
		_, _ = pool.Exec(ctx, `DELETE FROM users WHERE id IN ($1, $2)`, doctorUserID, patientID)
	})

	return integrationPair{
		key:           models.NewConversationKey(doctorID, patientID),
		appointmentID: appointmentID,
		doctor:        models.Actor{ID: doctorID, Type: models.SenderDoctor},
		patient:       models.Actor{ID: patientID, Type: models.SenderPatient},
	}
}

func findConversation(conversations []models.Conversation, key models.ConversationKey) *models.Conversation {
	for i := range conversations {
		if conversations[i].Key() == key {
			return &conversations[i]
		}
	}
	return nil
}
