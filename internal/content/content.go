// Package content prepares message content for display: markdown
// rendering, HTML sanitization and media sniffing for attachments.
package content

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"palaver/internal/models"
)

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a strict
// policy. Applied to every message body before it reaches a view.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message markdown to sanitized HTML.
func Render(input string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

// DetectMessageType classifies attachment bytes ahead of upload.
// Anything that is not a recognized image or video stays TEXT.
func DetectMessageType(data []byte) models.MessageType {
	switch {
	case filetype.IsImage(data):
		return models.MessageTypeImage
	case filetype.IsVideo(data):
		return models.MessageTypeVideo
	default:
		return models.MessageTypeText
	}
}
