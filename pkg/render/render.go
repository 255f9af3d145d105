package render

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	policy = bluemonday.UGCPolicy()
)

// MarkdownHTML renders md to sanitised HTML for the browser.
func MarkdownHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", errors.Wrap(err, "render markdown")
	}
	return string(policy.SanitizeBytes(buf.Bytes())), nil
}

// Terminal styles md with glamour when stdout is a terminal and returns it untouched otherwise.
func Terminal(md string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return md
	}
	styled, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return styled
}

// PrettyJSON indents raw with two spaces. Invalid JSON is returned as is.
func PrettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// JSONFence wraps the indented document in a json code fence.
func JSONFence(raw []byte) string {
	return "```json\n" + PrettyJSON(raw) + "\n```"
}

// Typewriter returns the progressive frames of text, one more word per frame.
// The first frame is empty and the last one holds every word.
func Typewriter(text string) []string {
	tokens := strings.Fields(text)
	frames := make([]string, 0, len(tokens)+1)
	for i := 0; i <= len(tokens); i++ {
		frames = append(frames, strings.Join(tokens[:i], " "))
	}
	return frames
}

// Delay is the pause between typewriter frames for speed words per second.
// A non-positive speed disables the effect.
func Delay(speed int) time.Duration {
	if speed <= 0 {
		return 0
	}
	return time.Second / time.Duration(speed)
}
