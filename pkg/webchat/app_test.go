package webchat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/snapdesk/pkg/chat"
	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/eventbus"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/workbench"
)

type fakeUpstream struct {
	srv    *httptest.Server
	mu     sync.Mutex
	status int
	body   string
	calls  int
}

func newFakeUpstream(t *testing.T, status int, body string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{status: status, body: body}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls++
		status, body := f.status, f.body
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func testPage(slug, url string, speed int) config.PageConfig {
	return config.PageConfig{
		Slug:            slug,
		Title:           "Demo " + slug,
		Description:     "Ask about **accounts**.",
		Examples:        []string{"Top 5 accounts"},
		Kind:            config.KindChat,
		Payload:         config.PayloadJSONMessages,
		UserRole:        "USER",
		Render:          config.RenderReply,
		TypewriterSpeed: speed,
		Pipeline:        config.PipelineConfig{URL: url, Token: "t", TokenPlacement: config.TokenHeader, Timeout: 2 * time.Second},
	}
}

func testRecs() []workbench.Recommendation {
	return []workbench.Recommendation{
		{RecID: "R-1001", SKU: "ABC123", SKUID: "16", Location: "DAL-DC", ShortageDate: "11/18/2025", RecommendedQty: 4500, Supplier: "Supplier A", SafetyStock: 3000, OnHand: 1200, ForecastGap: 3100, Reason: "Forecast < Safety Stock"},
		{RecID: "R-1002", SKU: "FGH987", SKUID: "18", Location: "RNO-DC", ShortageDate: "11/12/2025", RecommendedQty: 12000, Supplier: "Supplier C", SafetyStock: 2000, OnHand: 100, ForecastGap: 900, Reason: "Seasonal demand increase"},
	}
}

type fixture struct {
	app   *App
	chat  *fakeUpstream
	erp   *fakeUpstream
	bus   *eventbus.Bus
	queue *workbench.Queue
}

func newFixture(t *testing.T, speed int) *fixture {
	t.Helper()
	f := &fixture{
		chat: newFakeUpstream(t, http.StatusOK, `{"choices":[{"message":{"content":"Hello **there** friend"}}]}`),
		erp:  newFakeUpstream(t, http.StatusOK, `{"po_number":"PO-77"}`),
		bus:  eventbus.NewInProcess(),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	svc := chat.NewService([]config.PageConfig{testPage("crm", f.chat.srv.URL, speed)}, chatstore.NewInMemoryStore(0), chat.WithBus(f.bus))
	f.queue = workbench.NewQueue(config.WorkbenchConfig{
		Enabled:          true,
		Endpoint:         f.erp.srv.URL + "/po",
		Token:            "12345",
		Timeout:          2 * time.Second,
		AutoApproveBelow: 250,
	}, testRecs(), workbench.WithBus(f.bus))

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Attach(ctx, f.bus))

	app, err := NewApp(svc, hub, WithWorkbench(f.queue, workbench.DefaultSettings()))
	require.NoError(t, err)
	f.app = app
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIndexAndPages(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `href="/p/crm"`)
	require.Contains(t, rec.Body.String(), "PO Approval Workbench")
	c := sessionCookie(t, rec)
	require.True(t, c.HttpOnly)

	rec = f.do(t, http.MethodGet, "/p/crm", "", c)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<strong>accounts</strong>")
	require.Contains(t, rec.Body.String(), "Top 5 accounts")
	require.Empty(t, rec.Result().Cookies(), "known session must not be reissued")

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/p/nope", "", c).Code)

	pages := decode[[]pageSummary](t, f.do(t, http.MethodGet, "/api/pages", "", nil))
	require.Len(t, pages, 1)
	require.Equal(t, "crm", pages[0].Slug)
	require.Equal(t, "chat", pages[0].Kind)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestSubmitHistoryAndReset(t *testing.T) {
	f := newFixture(t, 0)
	c := sessionCookie(t, f.do(t, http.MethodGet, "/", "", nil))

	rec := f.do(t, http.MethodPost, "/api/pages/crm/messages", `{"prompt":"Top 5 accounts"}`, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[submitResponse](t, rec)
	require.Equal(t, "Hello **there** friend", resp.Message.Content)
	require.Contains(t, resp.HTML, "<strong>there</strong>")

	hist := decode[map[string][]chatstore.Message](t, f.do(t, http.MethodGet, "/api/pages/crm/history", "", c))
	require.Len(t, hist["messages"], 2)
	require.Equal(t, chat.RoleUser, hist["messages"][0].Role)
	require.Equal(t, "Top 5 accounts", hist["messages"][0].Content)

	page := f.do(t, http.MethodGet, "/p/crm", "", c)
	require.Contains(t, page.Body.String(), "<strong>there</strong>")

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/pages/crm/history", "", c).Code)
	hist = decode[map[string][]chatstore.Message](t, f.do(t, http.MethodGet, "/api/pages/crm/history", "", c))
	require.Empty(t, hist["messages"])
}

func TestSubmitIdempotencyHeader(t *testing.T) {
	f := newFixture(t, 0)
	c := sessionCookie(t, f.do(t, http.MethodGet, "/", "", nil))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pages/crm/messages", strings.NewReader(`{"prompt":"again"}`))
		req.Header.Set("Idempotency-Key", "k-1")
		req.AddCookie(c)
		rec := httptest.NewRecorder()
		f.app.Handler().ServeHTTP(rec, req)
		return rec
	}
	first := decode[submitResponse](t, send())
	second := decode[submitResponse](t, send())
	require.Equal(t, first.Message.ID, second.Message.ID)
	f.chat.mu.Lock()
	defer f.chat.mu.Unlock()
	require.Equal(t, 1, f.chat.calls)
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, 0)
	c := sessionCookie(t, f.do(t, http.MethodGet, "/", "", nil))

	rec := f.do(t, http.MethodPost, "/api/pages/crm/messages", `{"prompt":"   "}`, c)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Please enter a prompt.", decode[errorBody](t, rec).Banner)

	rec = f.do(t, http.MethodPost, "/api/pages/nope/messages", `{"prompt":"hi"}`, c)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/pages/crm/messages", `{"prompt":`, c)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.chat.set(http.StatusInternalServerError, "boom")
	rec = f.do(t, http.MethodPost, "/api/pages/crm/messages", `{"prompt":"hi"}`, c)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "❌ Error while calling the SnapLogic API: 500", decode[errorBody](t, rec).Banner)

	f.chat.set(http.StatusOK, `{"reason":"quota exceeded"}`)
	rec = f.do(t, http.MethodPost, "/api/pages/crm/messages", `{"prompt":"hi"}`, c)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "❌ Error in the SnapLogic API response\nquota exceeded", decode[errorBody](t, rec).Banner)
}

func TestWorkbenchRoutes(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodGet, "/workbench", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "DAL-DC")

	list := decode[map[string]json.RawMessage](t, f.do(t, http.MethodGet, "/api/workbench/recommendations?location=DAL-DC", "", nil))
	var recs []recommendationView
	require.NoError(t, json.Unmarshal(list["recommendations"], &recs))
	require.Len(t, recs, 1)
	require.Equal(t, "R-1001", recs[0].RecID)
	require.Equal(t, "Pending", recs[0].Display)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/workbench/recommendations?window_days=x", "", nil).Code)

	detail := decode[recommendationDetail](t, f.do(t, http.MethodGet, "/api/workbench/recommendations/R-1002", "", nil))
	require.False(t, detail.PolicyOK)
	require.Equal(t, []string{workbench.WarnLargeOrder, workbench.WarnCritical}, detail.Warnings)

	rec = f.do(t, http.MethodPost, "/api/workbench/recommendations/R-1002/approve", `{}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/workbench/recommendations/R-1001/approve", `{"justification":"urgent","erp":"NetSuite","dry_run":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[recommendationView](t, rec)
	require.Equal(t, "Created: PO-77", approved.Display)

	rec = f.do(t, http.MethodPost, "/api/workbench/recommendations/R-1001/approve", `{}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/workbench/recommendations/R-9/reject", "", nil).Code)

	rec = f.do(t, http.MethodPost, "/api/workbench/recommendations/R-1002/reject", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Rejected", decode[recommendationView](t, rec).Display)

	m := decode[workbench.Metrics](t, f.do(t, http.MethodGet, "/api/workbench/metrics", "", nil))
	require.Equal(t, workbench.Metrics{Created: 1, Rejected: 1, Total: 2}, m)

	act := decode[workbench.Activity](t, f.do(t, http.MethodGet, "/api/workbench/activity", "", nil))
	require.Len(t, act.Events, 2)

	rec = f.do(t, http.MethodGet, "/api/workbench/export.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "po_recommendations.csv")
	require.Contains(t, rec.Body.String(), "R-1001")

	rec = f.do(t, http.MethodGet, "/api/workbench/export.xlsx", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "PK", rec.Body.String()[:2])
}

func TestApproveUpstreamFailureBanner(t *testing.T) {
	f := newFixture(t, 0)
	f.erp.set(http.StatusInternalServerError, "down")

	rec := f.do(t, http.MethodPost, "/api/workbench/recommendations/R-1001/approve", `{}`, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	require.True(t, strings.HasPrefix(body.Banner, "❌ Failed to create PO: "), body.Banner)

	r, err := f.queue.Get("R-1001")
	require.NoError(t, err)
	require.Equal(t, workbench.StatusFailed, r.Status)
}

func TestWebsocketStreamsReply(t *testing.T) {
	f := newFixture(t, 200)
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	var c *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookie {
			c = ck
		}
	}
	require.NotNil(t, c)

	header := http.Header{}
	header.Set("Cookie", c.String())
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?page=crm", header)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	var hello Frame
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pages/crm/messages", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(c)
	post, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var submitted submitResponse
	require.NoError(t, json.NewDecoder(post.Body).Decode(&submitted))
	_ = post.Body.Close()
	require.Equal(t, 200, submitted.Speed)

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frames []Frame
	for {
		var fr Frame
		require.NoError(t, ws.ReadJSON(&fr))
		frames = append(frames, fr)
		if fr.Type == "done" {
			break
		}
	}
	require.Len(t, frames, 5)
	require.Equal(t, "Hello **there**", frames[2].Text)
	last := frames[len(frames)-1]
	require.Equal(t, submitted.Message.ID, last.MessageID)
	require.Contains(t, last.HTML, "<strong>there</strong>")
}

func TestWebsocketUnknownPage(t *testing.T) {
	f := newFixture(t, 0)
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?page=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketIssuesSessionCookie(t *testing.T) {
	f := newFixture(t, 0)
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?page=crm", nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	var c *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookie {
			c = ck
		}
	}
	require.NotNil(t, c, "handshake response carries the new session cookie")

	var hello Frame
	require.NoError(t, ws.ReadJSON(&hello))

	// A follow-up request with the issued cookie reaches the same socket.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/pages/crm/messages", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(c)
	post, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var fr Frame
		require.NoError(t, ws.ReadJSON(&fr))
		if fr.Type == "done" {
			break
		}
	}

	header := http.Header{}
	header.Set("Cookie", c.String())
	again, resp2, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?page=crm", header)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	require.Empty(t, resp2.Header.Values("Set-Cookie"))
}
