package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/gorilla/websocket"
)

func TestListConversationsSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/messaging/conversations" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"conversations":[{"doctor_id":"d1","patient_id":"p1","unread_count":3}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	conversations, err := client.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations returned error: %v", err)
	}
	if len(conversations) != 1 || conversations[0].UnreadCount != 3 {
		t.Fatalf("unexpected conversations: %+v", conversations)
	}
}

func TestFetchThreadSinceEscapesCursor(t *testing.T) {
	var gotPath, gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSince = r.URL.Query().Get("since")
		_, _ = w.Write([]byte(`{"success":true,"messages":[{"id":"m2"}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	messages, err := client.FetchThreadSince(context.Background(), models.NewConversationKey("d1", "p1"), "m 1")
	if err != nil {
		t.Fatalf("FetchThreadSince returned error: %v", err)
	}
	if gotPath != "/api/v1/messaging/conversations/d1/p1/messages" || gotSince != "m 1" {
		t.Fatalf("unexpected request: %q since=%q", gotPath, gotSince)
	}
	if len(messages) != 1 || messages[0].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestSendDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"error":"Failed to reach message store, please retry"}`))
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	_, err := client.Send(context.Background(), SendRequest{DoctorID: "d1", PatientID: "p1", SenderType: "patient", Message: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || !strings.Contains(apiErr.Message, "retry") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !IsRetryable(err) {
		t.Fatal("expected 502 to be retryable")
	}
}

func TestSendWithAttachmentPostsMultipart(t *testing.T) {
	var gotFile, gotSender string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotSender = r.FormValue("senderType")
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		gotFile = header.Filename + ":" + string(content)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": models.Message{ID: "m1", MessageType: models.MessageTypePrescription},
		})
	}))
	defer server.Close()

	client := New(server.URL, "tok", nil)
	message, err := client.SendWithAttachment(
		context.Background(),
		SendRequest{DoctorID: "d1", PatientID: "p1", SenderType: "doctor"},
		Attachment{Filename: "rx.pdf", Content: strings.NewReader("pdf")},
	)
	if err != nil {
		t.Fatalf("SendWithAttachment returned error: %v", err)
	}
	if gotFile != "rx.pdf:pdf" || gotSender != "doctor" {
		t.Fatalf("unexpected upload: %q %q", gotFile, gotSender)
	}
	if message.MessageType != models.MessageTypePrescription {
		t.Fatalf("unexpected message: %+v", message)
	}
}

func TestMarkRead(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	if err := New(server.URL, "tok", nil).MarkRead(context.Background(), models.NewConversationKey("d1", "p1")); err != nil {
		t.Fatalf("MarkRead returned error: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/messaging/conversations/d1/p1/read" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestMarkMessageRead(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true,"message":{"id":"m1","isRead":true}}`))
	}))
	defer server.Close()

	message, err := New(server.URL, "tok", nil).MarkMessageRead(context.Background(), "m1")
	if err != nil {
		t.Fatalf("MarkMessageRead returned error: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/messaging/read/m1" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if message == nil || message.ID != "m1" || !message.IsRead {
		t.Fatalf("unexpected message: %+v", message)
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ws" || r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation.updated","doctorId":"d1","patientId":"p1","messageId":"m9"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan models.ConversationEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- New(server.URL, "tok", nil).Subscribe(ctx, func(event models.ConversationEvent) {
			received <- event
		})
	}()

	select {
	case event := <-received:
		if event.MessageID != "m9" || event.Key() != models.NewConversationKey("d1", "p1") {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	got, err := New("https://api.example.com/", "a b", nil).websocketURL()
	if err != nil {
		t.Fatalf("websocketURL returned error: %v", err)
	}
	if got != "wss://api.example.com/api/v1/ws?token=a+b" {
		t.Fatalf("unexpected url %q", got)
	}
}
