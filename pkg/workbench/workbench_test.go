package workbench

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/eventbus"
)

func sampleRecs() []Recommendation {
	return []Recommendation{
		{RecID: "R-1001", SKU: "ABC123", SKUID: "16", Location: "DAL-DC", ShortageDate: "11/18/2025", RecommendedQty: 4500, Supplier: "Supplier A", SafetyStock: 3000, OnHand: 1200, Inbound: 200, ForecastGap: 3100, Reason: "Forecast < Safety Stock"},
		{RecID: "R-1002", SKU: "FGH987", SKUID: "18", Location: "RNO-DC", ShortageDate: "11/12/2025", RecommendedQty: 800, Supplier: "Supplier C", SafetyStock: 2000, OnHand: 1600, ForecastGap: 900, Reason: "Seasonal demand increase"},
		{RecID: "R-1003", SKU: "XYZ555", SKUID: "15", Location: "PHX-DC", ShortageDate: "11/20/2025", RecommendedQty: 1200, Supplier: "Supplier B", SafetyStock: 1500, OnHand: 400, Inbound: 50, ForecastGap: 1050, Reason: "Backorder depletion"},
		{RecID: "R-1004", SKU: "TNY001", SKUID: "21", Location: "DAL-DC", ShortageDate: "someday", RecommendedQty: 120, Supplier: "Supplier A", SafetyStock: 500, OnHand: 50, ForecastGap: 110, Reason: "Promo"},
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.WorkbenchStatus
}

func (b *recordingBus) Publish(_ context.Context, topic string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == eventbus.TopicWorkbenchStatus {
		b.events = append(b.events, v.(eventbus.WorkbenchStatus))
	}
	return nil
}

type fakeERP struct {
	srv     *httptest.Server
	mu      sync.Mutex
	queries []string
	bodies  []string
}

func newFakeERP(t *testing.T, status int, body string) *fakeERP {
	t.Helper()
	f := &fakeERP{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.bodies = append(f.bodies, string(b))
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newQueue(t *testing.T, erp *fakeERP, bus eventbus.Publisher) *Queue {
	t.Helper()
	cfg := config.WorkbenchConfig{
		Enabled:          true,
		Endpoint:         erp.srv.URL + "/po",
		Token:            "12345",
		Timeout:          2 * time.Second,
		NetSuiteAccount:  "../../shared/NS_Token account",
		AutoApproveBelow: 250,
	}
	opts := []QueueOption{WithClock(func() time.Time { return time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC) })}
	if bus != nil {
		opts = append(opts, WithBus(bus))
	}
	return NewQueue(cfg, sampleRecs(), opts...)
}

func TestWarningsPolicyJustification(t *testing.T) {
	r := sampleRecs()[0]
	require.Empty(t, Warnings(r))
	require.True(t, PolicyOK(r))
	require.Equal(t, "Auto-generated: Forecast < Safety Stock (gap 3100)", DefaultJustification(r))

	r.RecommendedQty = 6000
	r.OnHand = 500
	require.Equal(t, []string{WarnLargeOrder, WarnCritical}, Warnings(r))
	require.True(t, PolicyOK(r))

	r.RecommendedQty = 10001
	require.False(t, PolicyOK(r))
	r.RecommendedQty = -1
	require.False(t, PolicyOK(r))
	r.RecommendedQty = 10000
	require.True(t, PolicyOK(r))
}

func TestAccountNameAndEndpoint(t *testing.T) {
	ns := "../../shared/NS_Token account_2018_2_TimToken vld 10.25.2023"
	require.Equal(t, ns, AccountName("NetSuite", "Prod", ns))
	require.Equal(t, "sap_dev", AccountName("SAP", "Dev", ns))
	require.Equal(t, "sap_qa", AccountName("SAP", "QA", ns))
	require.Equal(t, "sap_prod", AccountName("SAP", "Prod", ns))
	require.Equal(t, "sap_staging", AccountName("SAP", "Staging", ns))

	require.Equal(t,
		"https://x/task?bearer_token=12345&accountName=..%2F..%2Fshared%2FNS_Token%20account_2018_2_TimToken%20vld%2010.25.2023",
		Endpoint("https://x/task", "12345", ns))
	require.Equal(t, "https://x/task?a=1&bearer_token=t&accountName=sap_dev", Endpoint("https://x/task?a=1", "t", "sap_dev"))
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(sampleRecs()[0], "because", Settings{ERP: "SAP", Environment: "QA", DryRun: true})
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"rec_id":"R-1001","sku":"ABC123","sku_id":"16","location":"DAL-DC",
		"shortage_date":"11/18/2025","recommended_qty":4500,"supplier":"Supplier A",
		"justification":"because","erp":"SAP","environment":"QA","dry_run":true
	}`, string(b))
}

func TestListFilters(t *testing.T) {
	q := newQueue(t, newFakeERP(t, 200, ""), nil)
	now := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	require.Len(t, q.List(Filter{}), 4)
	require.Len(t, q.List(Filter{Locations: []string{"DAL-DC"}}), 2)
	require.Len(t, q.List(Filter{Locations: []string{"DAL-DC"}, Suppliers: []string{"Supplier B"}}), 0)

	within := q.List(Filter{WindowDays: 5, Now: now})
	ids := []string{}
	for _, r := range within {
		ids = append(ids, r.RecID)
	}
	require.Equal(t, []string{"R-1002", "R-1004"}, ids)

	require.Equal(t, []string{"DAL-DC", "PHX-DC", "RNO-DC"}, q.Locations())
	require.Equal(t, []string{"Supplier A", "Supplier B", "Supplier C"}, q.Suppliers())
}

func TestApproveCreatesPO(t *testing.T) {
	erp := newFakeERP(t, http.StatusAccepted, `[{"po_number":"PO-7788"}]`)
	bus := &recordingBus{}
	q := newQueue(t, erp, bus)

	r, err := q.Approve(context.Background(), "R-1001", "", Settings{ERP: "NetSuite", Environment: "Dev", DryRun: false})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, r.Status)
	require.Equal(t, "PO-7788", r.PONumber)
	require.Equal(t, "Created: PO-7788", r.Display())

	erp.mu.Lock()
	require.Equal(t, "bearer_token=12345&accountName=..%2F..%2Fshared%2FNS_Token%20account", erp.queries[0])
	var payload Payload
	require.NoError(t, json.Unmarshal([]byte(erp.bodies[0]), &payload))
	erp.mu.Unlock()
	require.Equal(t, "Auto-generated: Forecast < Safety Stock (gap 3100)", payload.Justification)
	require.Equal(t, "NetSuite", payload.ERP)
	require.False(t, payload.DryRun)

	m := q.Metrics()
	require.Equal(t, Metrics{Pending: 3, Created: 1, Total: 4}, m)

	_, err = q.Approve(context.Background(), "R-1001", "", DefaultSettings())
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	require.Equal(t, StatusCreated, te.From)

	_, err = q.Reject(context.Background(), "R-1001")
	require.True(t, errors.As(err, &te))

	bus.mu.Lock()
	require.Len(t, bus.events, 1)
	require.Equal(t, "Created: PO-7788", bus.events[0].Status)
	bus.mu.Unlock()

	act := q.Activity()
	require.Len(t, act.Rows, 4)
	require.Equal(t, "Created: PO-7788", act.Rows[0].Status)
	require.Len(t, act.Events, 1)
	require.Equal(t, StatusPending, act.Events[0].From)
	require.Equal(t, StatusCreated, act.Events[0].To)
}

func TestApproveWithoutPONumber(t *testing.T) {
	q := newQueue(t, newFakeERP(t, http.StatusOK, `ok`), nil)
	r, err := q.Approve(context.Background(), "R-1002", "custom", DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, "Created: PO-CREATED", r.Display())
}

func TestApproveFailureThenRetry(t *testing.T) {
	status := http.StatusInternalServerError
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	q := NewQueue(config.WorkbenchConfig{Endpoint: srv.URL, Token: "t", Timeout: time.Second}, sampleRecs())
	r, err := q.Approve(context.Background(), "R-1003", "", DefaultSettings())
	require.Error(t, err)
	require.Equal(t, StatusFailed, r.Status)
	require.NotEmpty(t, r.LastError)
	require.Equal(t, 1, q.Metrics().Failed)

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()
	r, err = q.Approve(context.Background(), "R-1003", "", DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, StatusCreated, r.Status)
	require.Empty(t, r.LastError)
}

func TestApprovePolicyAndNotFound(t *testing.T) {
	erp := newFakeERP(t, http.StatusOK, "")
	recs := sampleRecs()
	recs[0].RecommendedQty = 20000
	q := NewQueue(config.WorkbenchConfig{Endpoint: erp.srv.URL, Timeout: time.Second}, recs)

	_, err := q.Approve(context.Background(), "R-1001", "", DefaultSettings())
	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	got, err := q.Get("R-1001")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	_, err = q.Approve(context.Background(), "R-9999", "", DefaultSettings())
	require.True(t, errors.Is(err, ErrNotFound))

	erp.mu.Lock()
	require.Empty(t, erp.bodies)
	erp.mu.Unlock()
}

func TestRejectAndAutoApprove(t *testing.T) {
	erp := newFakeERP(t, http.StatusOK, `{"PO":"PO-1"}`)
	q := newQueue(t, erp, nil)
	ctx := context.Background()

	r, err := q.Reject(ctx, "R-1002")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, r.Status)

	approved, err := q.AutoApproveSmall(ctx, DefaultSettings())
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Equal(t, "R-1004", approved[0].RecID)
	require.Equal(t, "Created: PO-1", approved[0].Display())

	require.Equal(t, Metrics{Pending: 2, Created: 1, Rejected: 1, Total: 4}, q.Metrics())
}

func TestParseAndLoadFile(t *testing.T) {
	recs, err := Parse([]byte(`
recommendations:
  - rec_id: R-1
    sku: A
    sku_id: "1"
    recommended_qty: 10
  - rec_id: R-2
    status: Failed
`))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, StatusPending, recs[0].Status)
	require.Equal(t, StatusFailed, recs[1].Status)

	recs, err = Parse([]byte(`[{"rec_id":"R-1","shortage_date":"2025-11-18"}]`))
	require.NoError(t, err)
	ts, ok := recs[0].ShortageTime()
	require.True(t, ok)
	require.Equal(t, 18, ts.Day())

	_, err = Parse([]byte(`[{"rec_id":"R-1"},{"rec_id":"R-1"}]`))
	require.Error(t, err)
	_, err = Parse([]byte(`[{"rec_id":"R-1","status":"Lost"}]`))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "recs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- rec_id: R-5\n  sku: Z\n"), 0o600))
	recs, err = LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Z", recs[0].SKU)
}

func TestExportCSV(t *testing.T) {
	recs := sampleRecs()[:2]
	recs[0].Status = StatusCreated
	recs[0].PONumber = "PO-1"

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, recs))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, exportHeader, rows[0])
	require.Equal(t, "R-1001", rows[1][0])
	require.Equal(t, "4500", rows[1][5])
	require.Equal(t, "Created: PO-1", rows[1][12])
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(&buf, sampleRecs()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "rec_id", rows[0][0])
	require.Equal(t, "R-1004", rows[4][0])
	require.Equal(t, "120", rows[4][5])
}

func TestLoadExampleRecommendations(t *testing.T) {
	recs, err := LoadFile(filepath.Join("..", "..", "examples", "workbench", "recommendations.yaml"))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "R-1001", recs[0].RecID)
	require.Equal(t, "16", recs[0].SKUID)
	for _, r := range recs {
		require.Equal(t, StatusPending, r.Status)
		require.True(t, PolicyOK(r))
	}
}
