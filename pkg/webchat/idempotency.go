package webchat

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// IdempotencyKeyFromRequest reads the client's idempotency key from the headers,
// then the body, and makes one up when neither carries it.
func IdempotencyKeyFromRequest(r *http.Request, bodyKey string) string {
	var key string
	if r != nil {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
		}
	}
	if key == "" {
		key = strings.TrimSpace(bodyKey)
	}
	if key == "" {
		key = uuid.NewString()
	}
	return key
}
