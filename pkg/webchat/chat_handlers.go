package webchat

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
)

type pageSummary struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	Examples    []string `json:"examples"`
}

func summarize(p config.PageConfig) pageSummary {
	return pageSummary{Slug: p.Slug, Title: p.Title, Description: p.Description, Kind: string(p.Kind), Examples: p.Examples}
}

type indexView struct {
	Pages     []pageSummary
	Workbench bool
}

type pageView struct {
	Page     config.PageConfig
	Messages []chatstore.Message
}

type submitBody struct {
	Prompt         string `json:"prompt"`
	IdempotencyKey string `json:"idempotency_key"`
}

type submitResponse struct {
	Message chatstore.Message `json:"message"`
	HTML    string            `json:"html"`
	Banner  string            `json:"banner"`
	Speed   int               `json:"speed"`
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	sessionID(w, r)
	v := indexView{Workbench: a.queue != nil}
	for _, p := range a.chat.Pages() {
		v.Pages = append(v.Pages, summarize(p))
	}
	a.renderTemplate(w, "index.html", v)
}

func (a *App) handleListPages(w http.ResponseWriter, _ *http.Request) {
	out := make([]pageSummary, 0, len(a.chat.Pages()))
	for _, p := range a.chat.Pages() {
		out = append(out, summarize(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handlePage(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	page, ok := a.chat.Page(slug)
	if !ok {
		http.NotFound(w, r)
		return
	}
	session := sessionID(w, r)
	msgs, err := a.chat.History(r.Context(), slug, session)
	if err != nil {
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	a.renderTemplate(w, "page.html", pageView{Page: page, Messages: msgs})
}

func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	session := sessionID(w, r)

	var body submitBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"), "", nil)
		return
	}
	key := IdempotencyKeyFromRequest(r, body.IdempotencyKey)

	res, err := a.chat.Submit(r.Context(), slug, session, body.Prompt, key)
	if err != nil {
		status := submitStatus(err)
		log.Debug().Err(err).Str("component", "webchat").Str("page", slug).Int("status", status).Msg("submit failed")
		writeError(w, status, err, chat.Banner(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Message: res.Message, HTML: res.HTML, Speed: res.Speed})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	msgs, err := a.chat.History(r.Context(), slug, sessionID(w, r))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrUnknownPage) {
			status = http.StatusNotFound
		}
		writeError(w, status, err, "", nil)
		return
	}
	if msgs == nil {
		msgs = []chatstore.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := a.chat.Reset(r.Context(), slug, sessionID(w, r)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrUnknownPage) {
			status = http.StatusNotFound
		}
		writeError(w, status, err, "", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
