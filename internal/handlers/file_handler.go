package handlers

import (
	"context"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/attachment"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
)

type attachmentUploader interface {
	UploadAttachment(ctx context.Context, upload services.AttachmentUpload) (*services.StoredObject, error)
}

// FileHandler stores an attachment ahead of the message that references it.
type FileHandler struct {
	service attachmentUploader
}

func NewFileHandler(service attachmentUploader) *FileHandler {
	return &FileHandler{service: service}
}

func (h *FileHandler) Upload(c *fiber.Ctx) error {
	if _, ok := actorFromLocals(c); !ok {
		return errorResponse(c, fiber.StatusForbidden, "Forbidden")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "file is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to open file")
	}
	defer file.Close()

	stored, err := h.service.UploadAttachment(c.Context(), services.AttachmentUpload{
		File:     file,
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"file": fiber.Map{
			"id":          stored.ID,
			"url":         stored.URL,
			"messageType": attachment.Classify(fileHeader.Filename),
		},
	})
}
