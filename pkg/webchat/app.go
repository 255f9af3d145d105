package webchat

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/render"
	"github.com/go-go-golems/snapdesk/pkg/workbench"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// App is the HTTP surface: chat pages, the PO workbench and their websocket.
type App struct {
	chat     *chat.Service
	queue    *workbench.Queue
	settings workbench.Settings
	hub      *Hub
	tmpl     *template.Template
	upgrader websocket.Upgrader
}

type AppOption func(*App)

// WithWorkbench mounts the PO workbench routes.
func WithWorkbench(q *workbench.Queue, defaults workbench.Settings) AppOption {
	return func(a *App) {
		a.queue = q
		a.settings = defaults
	}
}

func NewApp(svc *chat.Service, hub *Hub, opts ...AppOption) (*App, error) {
	if svc == nil {
		return nil, errors.New("chat service is nil")
	}
	if hub == nil {
		hub = NewHub()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"markdown": func(s string) template.HTML {
			h, err := render.MarkdownHTML(s)
			if err != nil {
				return template.HTML(template.HTMLEscapeString(s))
			}
			// #nosec G203 -- output is sanitised by bluemonday.
			return template.HTML(h)
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	a := &App{
		chat:     svc,
		hub:      hub,
		tmpl:     tmpl,
		settings: workbench.DefaultSettings(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *App) Hub() *Hub { return a.hub }

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /p/{slug}", a.handlePage)
	mux.HandleFunc("GET /api/pages", a.handleListPages)
	mux.HandleFunc("POST /api/pages/{slug}/messages", a.handleSubmit)
	mux.HandleFunc("GET /api/pages/{slug}/history", a.handleHistory)
	mux.HandleFunc("DELETE /api/pages/{slug}/history", a.handleReset)
	mux.HandleFunc("GET /ws", a.handleWS)

	if a.queue != nil {
		mux.HandleFunc("GET /workbench", a.handleWorkbenchPage)
		mux.HandleFunc("GET /api/workbench/recommendations", a.handleRecommendations)
		mux.HandleFunc("GET /api/workbench/recommendations/{id}", a.handleRecommendation)
		mux.HandleFunc("POST /api/workbench/recommendations/{id}/approve", a.handleApprove)
		mux.HandleFunc("POST /api/workbench/recommendations/{id}/reject", a.handleReject)
		mux.HandleFunc("POST /api/workbench/auto-approve", a.handleAutoApprove)
		mux.HandleFunc("GET /api/workbench/metrics", a.handleMetrics)
		mux.HandleFunc("GET /api/workbench/activity", a.handleActivity)
		mux.HandleFunc("GET /api/workbench/export.csv", a.handleExportCSV)
		mux.HandleFunc("GET /api/workbench/export.xlsx", a.handleExportXLSX)
	}

	static, err := fs.Sub(staticFS, "static")
	if err == nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	}
	return mux
}

func (a *App) renderTemplate(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := a.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("template", name).Msg("render template")
	}
}

func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	key := workbenchPoolKey
	// Upgrade ignores headers already set on w, so a new cookie rides in the handshake response.
	var hdr http.Header
	if slug := r.URL.Query().Get("page"); slug != "" {
		if _, ok := a.chat.Page(slug); !ok {
			http.Error(w, "unknown page", http.StatusNotFound)
			return
		}
		id, c := resolveSession(r)
		if c != nil {
			hdr = http.Header{"Set-Cookie": {c.String()}}
		}
		key = sessionPoolKey(slug, id)
	}

	conn, err := a.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		return
	}
	pool := a.hub.Pool(key)
	pool.Add(conn)
	log.Debug().Str("component", "webchat").Str("pool", key).Int("conns", pool.Count()).Msg("ws attached")

	// Drain reads so close frames and pongs are processed; the client never sends data.
	go func() {
		defer pool.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	pool.SendToOne(conn, []byte(`{"type":"hello"}`))
}
