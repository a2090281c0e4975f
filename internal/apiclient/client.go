package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusBadGateway ||
		e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the messaging API as one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type SendRequest struct {
	DoctorID      string  `json:"doctorId"`
	PatientID     string  `json:"patientId"`
	AppointmentID *string `json:"appointmentId,omitempty"`
	SenderType    string  `json:"senderType"`
	Message       string  `json:"message,omitempty"`
	AttachmentURL string  `json:"attachmentUrl,omitempty"`
}

type Attachment struct {
	Filename string
	Content  io.Reader
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var body struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/messaging/conversations", nil, "", &body); err != nil {
		return nil, err
	}
	return body.Conversations, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var body struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/messaging/unread-count", nil, "", &body); err != nil {
		return 0, err
	}
	return body.UnreadCount, nil
}

func (c *Client) FetchThread(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	return c.FetchThreadSince(ctx, key, "")
}

func (c *Client) FetchThreadSince(ctx context.Context, key models.ConversationKey, sinceID string) ([]models.Message, error) {
	path := threadPath(key) + "/messages"
	if sinceID != "" {
		path += "?since=" + url.QueryEscape(sinceID)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

func (c *Client) MarkRead(ctx context.Context, key models.ConversationKey) error {
	return c.do(ctx, http.MethodPost, threadPath(key)+"/read", nil, "", nil)
}

// MarkMessageRead marks one incoming message as read and returns it.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) (*models.Message, error) {
	var body struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/messaging/read/"+url.PathEscape(messageID), nil, "", &body); err != nil {
		return nil, err
	}
	return body.Message, nil
}

func (c *Client) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}

	var body struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messaging/messages", bytes.NewReader(payload), "application/json", &body); err != nil {
		return nil, err
	}
	return body.Message, nil
}

// SendWithAttachment posts the message as a multipart form so the server
// stores the file and the message in one request.
func (c *Client) SendWithAttachment(ctx context.Context, req SendRequest, attachment Attachment) (*models.Message, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"doctorId":   req.DoctorID,
		"patientId":  req.PatientID,
		"senderType": req.SenderType,
		"message":    req.Message,
	}
	if req.AppointmentID != nil {
		fields["appointmentId"] = *req.AppointmentID
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile("file", attachment.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, attachment.Content); err != nil {
		return nil, fmt.Errorf("copy attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var body struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messaging/messages", &buf, writer.FormDataContentType(), &body); err != nil {
		return nil, err
	}
	return body.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// IsRetryable reports whether err is an API error worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func threadPath(key models.ConversationKey) string {
	return "/api/v1/messaging/conversations/" + url.PathEscape(key.DoctorID) + "/" + url.PathEscape(key.PatientID)
}
