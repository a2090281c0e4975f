package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/middleware"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/services"
	chatws "github.com/Rifat-Hossain49/MediMitro-sub001/internal/websocket"
	"github.com/Rifat-Hossain49/MediMitro-sub001/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actor models.Actor) ([]models.Conversation, error)
	UnreadCount(ctx context.Context, actor models.Actor) (int, error)
	FetchThread(ctx context.Context, actor models.Actor, doctorID string, patientID string) ([]models.Message, error)
	FetchThreadSince(ctx context.Context, actor models.Actor, doctorID string, patientID string, sinceID string) ([]models.Message, error)
	FetchThreadPage(ctx context.Context, actor models.Actor, doctorID string, patientID string, query services.ThreadPageQuery) (*services.ThreadPage, error)
	MarkRead(ctx context.Context, actor models.Actor, doctorID string, patientID string) error
	MarkMessageRead(ctx context.Context, actor models.Actor, messageID string) (*models.Message, error)
	AttachmentLink(ctx context.Context, actor models.Actor, messageID string) (*services.AttachmentLink, error)
	SendMessage(ctx context.Context, actor models.Actor, input services.SendMessageInput) (*models.Message, error)
	OpenConversation(ctx context.Context, actor models.Actor, appointmentID string, text string) (*models.Message, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
}

type sendMessageRequest struct {
	DoctorID      string  `json:"doctorId"`
	PatientID     string  `json:"patientId"`
	AppointmentID *string `json:"appointmentId"`
	SenderType    string  `json:"senderType"`
	Message       string  `json:"message"`
	AttachmentURL string  `json:"attachmentUrl"`
}

type openConversationRequest struct {
	AppointmentID string `json:"appointmentId"`
	Message       string `json:"message"`
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	conversations, err := h.service.ListConversations(c.Context(), actor)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "conversations": conversations})
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	count, err := h.service.UnreadCount(c.Context(), actor)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "unreadCount": count})
}

// GetMessages returns the whole thread, or the messages after "since". A
// "limit" or "before" query switches to a bounded page.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	doctorID := c.Params("doctorId")
	patientID := c.Params("patientId")

	rawLimit := strings.TrimSpace(c.Query("limit"))
	before := strings.TrimSpace(c.Query("before"))
	if rawLimit != "" || before != "" {
		query := services.ThreadPageQuery{Since: c.Query("since"), Before: before}
		if rawLimit != "" {
			limit, err := strconv.Atoi(rawLimit)
			if err != nil {
				return errorResponse(c, fiber.StatusBadRequest, "limit must be an integer")
			}
			query.Limit = limit
		}

		page, err := h.service.FetchThreadPage(c.Context(), actor, doctorID, patientID, query)
		if err != nil {
			return mapChatError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "messages": page.Messages, "hasMore": page.HasMore})
	}

	var (
		messages []models.Message
		err      error
	)
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		messages, err = h.service.FetchThreadSince(c.Context(), actor, doctorID, patientID, since)
	} else {
		messages, err = h.service.FetchThread(c.Context(), actor, doctorID, patientID)
	}
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "messages": messages})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	if err := h.service.MarkRead(c.Context(), actor, c.Params("doctorId"), c.Params("patientId")); err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) MarkMessageRead(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	message, err := h.service.MarkMessageRead(c.Context(), actor, c.Params("messageId"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "message": message})
}

func (h *ChatHandler) AttachmentLink(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	link, err := h.service.AttachmentLink(c.Context(), actor, c.Params("messageId"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "url": link.URL, "expiresAt": link.ExpiresAt})
}

// SendMessage accepts either a JSON body or a multipart form carrying the
// same fields plus an optional "file".
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	var req sendMessageRequest
	var upload *services.AttachmentUpload
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		req = sendMessageRequest{
			DoctorID:      c.FormValue("doctorId"),
			PatientID:     c.FormValue("patientId"),
			SenderType:    c.FormValue("senderType"),
			Message:       c.FormValue("message"),
			AttachmentURL: c.FormValue("attachmentUrl"),
		}
		if appointmentID := strings.TrimSpace(c.FormValue("appointmentId")); appointmentID != "" {
			req.AppointmentID = &appointmentID
		}

		if fileHeader, err := c.FormFile("file"); err == nil {
			file, err := fileHeader.Open()
			if err != nil {
				return errorResponse(c, fiber.StatusInternalServerError, "Failed to open file")
			}
			defer file.Close()

			upload = &services.AttachmentUpload{
				File:     file,
				Filename: fileHeader.Filename,
				Size:     fileHeader.Size,
			}
		}
	} else if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	senderType := models.SenderType(strings.TrimSpace(req.SenderType))
	if senderType == "" {
		senderType = actor.Type
	}

	message, err := h.service.SendMessage(c.Context(), actor, services.SendMessageInput{
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		SenderType:    senderType,
		Text:          req.Message,
		Attachment:    upload,
		AttachmentURL: req.AttachmentURL,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": message})
}

func (h *ChatHandler) OpenConversation(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	var req openConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	message, err := h.service.OpenConversation(c.Context(), actor, req.AppointmentID, req.Message)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": message})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return errorResponse(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return errorResponse(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	client := chatws.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString, err := middleware.BearerToken(c, true)
	if err != nil {
		return nil, err
	}
	return utils.ValidateToken(tokenString, h.jwtSecret)
}

// actorFromLocals reads the caller set by middleware.AuthRequired. Only
// doctors and patients take part in messaging.
func actorFromLocals(c *fiber.Ctx) (models.Actor, bool) {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)

	actor := models.Actor{ID: strings.TrimSpace(userID), Type: models.SenderType(role)}
	if actor.ID == "" || !actor.Type.Valid() {
		return models.Actor{}, false
	}
	return actor, true
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	case errors.Is(err, services.ErrNotFound):
		return errorResponse(c, fiber.StatusNotFound, "Message not found")
	case errors.Is(err, services.ErrAttachmentTooLarge):
		return errorResponse(c, fiber.StatusRequestEntityTooLarge, "File size must be less than 10MB")
	case errors.Is(err, services.ErrStorageUnavailable):
		return errorResponse(c, fiber.StatusServiceUnavailable, "File storage is not available")
	case errors.Is(err, services.ErrAttachment):
		return errorResponse(c, fiber.StatusUnprocessableEntity, "Failed to upload attachment")
	case errors.Is(err, services.ErrValidation):
		return errorResponse(c, fiber.StatusBadRequest, validationMessage(err))
	case errors.Is(err, services.ErrPersistence):
		return errorResponse(c, fiber.StatusBadGateway, "Failed to reach message store, please retry")
	default:
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to process messaging request")
	}
}

// validationMessage strips the sentinel prefix so clients see only the
// reason.
func validationMessage(err error) string {
	message := strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": ")
	if message == "" || message == services.ErrValidation.Error() {
		return "Invalid request"
	}
	return message
}
