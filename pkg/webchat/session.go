package webchat

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const SessionCookie = "snapdesk_session"

// sessionID returns the browser's session id, issuing a new cookie on first visit.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	id, c := resolveSession(r)
	if c != nil {
		http.SetCookie(w, c)
	}
	return id
}

// resolveSession returns the request's session id. The cookie is non-nil when
// the id is new and still has to be sent to the browser.
func resolveSession(r *http.Request) (string, *http.Cookie) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			if _, err := uuid.Parse(id); err == nil {
				return id, nil
			}
		}
	}
	id := uuid.NewString()
	return id, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
