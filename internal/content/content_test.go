package content

import (
	"encoding/base64"
	"strings"
	"testing"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	out := Sanitize(`hello <script>alert(1)</script>world`)
	if strings.Contains(out, "script") {
		t.Errorf("script tag survived sanitization: %s", out)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "world") {
		t.Errorf("text content lost: %s", out)
	}
}

func TestRender_Markdown(t *testing.T) {
	out, err := Render("hello **world**")
	require.NoError(t, err)
	require.Contains(t, string(out), "<strong>world</strong>")
}

func TestRender_StripsScripts(t *testing.T) {
	out, err := Render(`click <a href="javascript:alert(1)">here</a>`)
	require.NoError(t, err)
	require.NotContains(t, string(out), "javascript:")
}

func TestDetectMessageType(t *testing.T) {
	// Minimal valid PNG.
	png, err := base64.StdEncoding.DecodeString(
		"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")
	require.NoError(t, err)

	require.Equal(t, models.MessageTypeImage, DetectMessageType(png))
	require.Equal(t, models.MessageTypeText, DetectMessageType([]byte("just text")))
	require.Equal(t, models.MessageTypeText, DetectMessageType(nil))
}
