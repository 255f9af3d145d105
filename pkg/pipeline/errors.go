package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxBodyInError = 200

// StatusError is returned when the pipeline answers with an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxBodyInError {
		cut := maxBodyInError
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	if body == "" {
		return fmt.Sprintf("pipeline returned status %d", e.Code)
	}
	return fmt.Sprintf("pipeline returned status %d: %s", e.Code, body)
}

// MissingChoicesError is returned when a 200 response carries neither choices nor a response field.
// Reason holds the pipeline's own reason field and is empty when the pipeline did not send one.
type MissingChoicesError struct {
	Reason string
}

func (e *MissingChoicesError) Error() string {
	if e.Reason == "" {
		return "pipeline response has no choices"
	}
	return "pipeline response has no choices: " + e.Reason
}
