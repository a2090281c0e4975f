package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrMissingAttachment = errors.New("attachment url is required")
	ErrUnknownType       = errors.New("unknown message type")
)

// MessageContent is the body of a message. It is implemented only by the
// variants in this file.
type MessageContent interface {
	Type() MessageType
	Text() string
	AttachmentURL() string
	sealed()
}

type TextContent struct {
	Body string
}

type ImageContent struct {
	URL     string
	Caption string
}

type PrescriptionContent struct {
	URL     string
	Caption string
}

type FileContent struct {
	URL     string
	Caption string
}

func NewTextContent(body string) (MessageContent, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, ErrEmptyContent
	}
	return TextContent{Body: trimmed}, nil
}

// NewAttachmentContent builds the variant for kind. An empty caption is
// replaced by the "Sent a <kind>" placeholder shown in conversation lists.
func NewAttachmentContent(kind MessageType, url string, caption string) (MessageContent, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrMissingAttachment
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		caption = AttachmentPlaceholder(kind)
	}

	switch kind {
	case MessageTypeImage:
		return ImageContent{URL: url, Caption: caption}, nil
	case MessageTypePrescription:
		return PrescriptionContent{URL: url, Caption: caption}, nil
	case MessageTypeFile:
		return FileContent{URL: url, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}

func AttachmentPlaceholder(kind MessageType) string {
	return fmt.Sprintf("Sent a %s", kind)
}

func (TextContent) Type() MessageType { return MessageTypeText }
func (c TextContent) Text() string { return c.Body }
func (TextContent) AttachmentURL() string { return "" }
func (TextContent) sealed() {}

func (ImageContent) Type() MessageType { return MessageTypeImage }
func (c ImageContent) Text() string { return c.Caption }
func (c ImageContent) AttachmentURL() string { return c.URL }
func (ImageContent) sealed() {}

func (PrescriptionContent) Type() MessageType { return MessageTypePrescription }
func (c PrescriptionContent) Text() string { return c.Caption }
func (c PrescriptionContent) AttachmentURL() string { return c.URL }
func (PrescriptionContent) sealed() {}

func (FileContent) Type() MessageType { return MessageTypeFile }
func (c FileContent) Text() string { return c.Caption }
func (c FileContent) AttachmentURL() string { return c.URL }
func (FileContent) sealed() {}
