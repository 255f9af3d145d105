package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/eventbus"
	"github.com/go-go-golems/snapdesk/pkg/pipeline"
)

const (
	// DefaultPONumber is shown when the pipeline does not return a PO number.
	DefaultPONumber = "PO-CREATED"
	maxEvents       = 500
)

var ErrNotFound = errors.New("recommendation not found")

// TransitionError is returned when a recommendation is not in a state that allows the action.
type TransitionError struct {
	RecID  string
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s recommendation %s while it is %s", e.Action, e.RecID, e.From)
}

// PolicyError is returned when approval would break the buyer authority policy.
type PolicyError struct {
	RecID string
	Qty   int
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("recommendation %s: quantity %d is outside 0..%d", e.RecID, e.Qty, MaxPolicyQty)
}

// Poster sends the PO payload. *pipeline.Client satisfies it.
type Poster interface {
	PostJSON(ctx context.Context, endpoint string, body []byte) (*pipeline.Response, error)
}

// Filter narrows the queue. Empty slices match everything; WindowDays <= 0 disables the date window.
type Filter struct {
	Locations  []string
	Suppliers  []string
	WindowDays int
	Now        time.Time
}

type Metrics struct {
	Pending  int `json:"pending"`
	Created  int `json:"created"`
	Failed   int `json:"failed"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Event is one entry of the activity log.
type Event struct {
	At       time.Time `json:"at"`
	RecID    string    `json:"rec_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	PONumber string    `json:"po_number,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// ActivityRow is the activity table line for one recommendation.
type ActivityRow struct {
	RecID    string `json:"rec_id"`
	SKU      string `json:"sku"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

type Activity struct {
	Rows   []ActivityRow `json:"rows"`
	Events []Event       `json:"events"`
}

// Queue holds the recommendations of one workbench and applies buyer decisions.
type Queue struct {
	cfg    config.WorkbenchConfig
	poster Poster
	bus    eventbus.Publisher
	now    func() time.Time

	mu       sync.Mutex
	recs     []*Recommendation
	index    map[string]*Recommendation
	inFlight map[string]struct{}
	events   []Event
}

type QueueOption func(*Queue)

func WithPoster(p Poster) QueueOption {
	return func(q *Queue) { q.poster = p }
}

func WithBus(p eventbus.Publisher) QueueOption {
	return func(q *Queue) { q.bus = p }
}

func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func NewQueue(cfg config.WorkbenchConfig, recs []Recommendation, opts ...QueueOption) *Queue {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	q := &Queue{
		cfg:      cfg,
		poster:   pipeline.NewClient(config.PipelineConfig{Timeout: timeout}),
		now:      time.Now,
		inFlight: map[string]struct{}{},
	}
	q.cfg.Timeout = timeout
	for _, o := range opts {
		o(q)
	}
	q.Load(recs)
	return q
}

// Load replaces the queue content.
func (q *Queue) Load(recs []Recommendation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recs = make([]*Recommendation, 0, len(recs))
	q.index = make(map[string]*Recommendation, len(recs))
	for i := range recs {
		r := recs[i]
		if r.Status == "" {
			r.Status = StatusPending
		}
		q.recs = append(q.recs, &r)
		q.index[r.RecID] = &r
	}
	q.events = nil
}

func (q *Queue) List(f Filter) []Recommendation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Recommendation, 0, len(q.recs))
	for _, r := range q.recs {
		if f.matches(*r) {
			out = append(out, *r)
		}
	}
	return out
}

func (f Filter) matches(r Recommendation) bool {
	if len(f.Locations) > 0 && !contains(f.Locations, r.Location) {
		return false
	}
	if len(f.Suppliers) > 0 && !contains(f.Suppliers, r.Supplier) {
		return false
	}
	if f.WindowDays > 0 {
		t, ok := r.ShortageTime()
		if !ok {
			return true
		}
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		if t.After(now.AddDate(0, 0, f.WindowDays)) {
			return false
		}
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (q *Queue) Get(id string) (Recommendation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.index[id]
	if !ok {
		return Recommendation{}, errors.Wrap(ErrNotFound, id)
	}
	return *r, nil
}

func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := Metrics{Total: len(q.recs)}
	for _, r := range q.recs {
		switch r.Status {
		case StatusPending:
			m.Pending++
		case StatusCreated:
			m.Created++
		case StatusFailed:
			m.Failed++
		case StatusRejected:
			m.Rejected++
		}
	}
	return m
}

func (q *Queue) Locations() []string {
	return q.unique(func(r *Recommendation) string { return r.Location })
}

func (q *Queue) Suppliers() []string {
	return q.unique(func(r *Recommendation) string { return r.Supplier })
}

func (q *Queue) unique(field func(*Recommendation) string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, r := range q.recs {
		v := field(r)
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (q *Queue) Activity() Activity {
	q.mu.Lock()
	defer q.mu.Unlock()
	a := Activity{Rows: make([]ActivityRow, 0, len(q.recs)), Events: append([]Event(nil), q.events...)}
	for _, r := range q.recs {
		a.Rows = append(a.Rows, ActivityRow{RecID: r.RecID, SKU: r.SKU, Location: r.Location, Status: r.Display()})
	}
	return a
}

// Approve posts the PO payload and marks the recommendation Created on any 2xx answer.
// Only Pending and Failed recommendations can be approved.
func (q *Queue) Approve(ctx context.Context, id, justification string, s Settings) (Recommendation, error) {
	rec, err := q.begin(id, "approve")
	if err != nil {
		return Recommendation{}, err
	}
	defer q.finish(id)

	if !PolicyOK(rec) {
		return rec, &PolicyError{RecID: id, Qty: rec.RecommendedQty}
	}
	if strings.TrimSpace(justification) == "" {
		justification = DefaultJustification(rec)
	}

	account := AccountName(s.ERP, s.Environment, q.cfg.NetSuiteAccount)
	endpoint := Endpoint(q.cfg.Endpoint, q.cfg.Token, account)
	body, err := json.Marshal(BuildPayload(rec, justification, s))
	if err != nil {
		return rec, errors.Wrap(err, "encode po payload")
	}

	recLog := log.With().Str("component", "workbench").Str("rec_id", id).Str("erp", s.ERP).Str("environment", s.Environment).Bool("dry_run", s.DryRun).Logger()
	recLog.Info().Str("account", account).Msg("posting po payload")

	callCtx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()
	resp, err := q.poster.PostJSON(callCtx, endpoint, body)
	if err != nil {
		recLog.Warn().Err(err).Msg("po creation failed")
		updated := q.transition(ctx, id, StatusFailed, "", err.Error())
		return updated, errors.Wrap(err, "create po")
	}

	po := poNumber(resp)
	recLog.Info().Int("status", resp.StatusCode).Str("po_number", po).Msg("po created")
	return q.transition(ctx, id, StatusCreated, po, ""), nil
}

// Reject marks a Pending or Failed recommendation as Rejected.
func (q *Queue) Reject(ctx context.Context, id string) (Recommendation, error) {
	if _, err := q.begin(id, "reject"); err != nil {
		return Recommendation{}, err
	}
	defer q.finish(id)
	log.Info().Str("component", "workbench").Str("rec_id", id).Msg("recommendation rejected")
	return q.transition(ctx, id, StatusRejected, "", ""), nil
}

// AutoApproveSmall approves every pending recommendation below the configured quantity.
// It keeps going after a failure and returns the first error.
func (q *Queue) AutoApproveSmall(ctx context.Context, s Settings) ([]Recommendation, error) {
	limit := q.cfg.AutoApproveBelow
	if limit <= 0 {
		limit = 250
	}
	var ids []string
	q.mu.Lock()
	for _, r := range q.recs {
		if r.Status == StatusPending && r.RecommendedQty < limit {
			ids = append(ids, r.RecID)
		}
	}
	q.mu.Unlock()

	var (
		out   []Recommendation
		first error
	)
	for _, id := range ids {
		r, err := q.Approve(ctx, id, "", s)
		if err != nil && first == nil {
			first = err
		}
		if r.RecID != "" {
			out = append(out, r)
		}
	}
	return out, first
}

func (q *Queue) begin(id, action string) (Recommendation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.index[id]
	if !ok {
		return Recommendation{}, errors.Wrap(ErrNotFound, id)
	}
	if _, busy := q.inFlight[id]; busy {
		return *r, &TransitionError{RecID: id, From: r.Status, Action: action}
	}
	if r.Status != StatusPending && r.Status != StatusFailed {
		return *r, &TransitionError{RecID: id, From: r.Status, Action: action}
	}
	q.inFlight[id] = struct{}{}
	return *r, nil
}

func (q *Queue) finish(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}

func (q *Queue) transition(ctx context.Context, id string, to Status, po, detail string) Recommendation {
	q.mu.Lock()
	r := q.index[id]
	ev := Event{At: q.now(), RecID: id, From: r.Status, To: to, PONumber: po, Detail: detail}
	r.Status = to
	r.PONumber = po
	r.LastError = detail
	q.events = append(q.events, ev)
	if len(q.events) > maxEvents {
		q.events = append([]Event(nil), q.events[len(q.events)-maxEvents:]...)
	}
	out := *r
	q.mu.Unlock()

	if q.bus != nil {
		status := eventbus.WorkbenchStatus{
			RecID:    out.RecID,
			SKU:      out.SKU,
			Location: out.Location,
			Status:   out.Display(),
			PONumber: po,
			Error:    detail,
			At:       ev.At,
		}
		if err := q.bus.Publish(ctx, eventbus.TopicWorkbenchStatus, status); err != nil {
			log.Warn().Err(err).Str("component", "workbench").Str("rec_id", id).Msg("publish status")
		}
	}
	return out
}

func poNumber(resp *pipeline.Response) string {
	if resp == nil || len(resp.Raw) == 0 {
		return DefaultPONumber
	}
	v, err := resp.JSON()
	if err != nil {
		return DefaultPONumber
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return DefaultPONumber
	}
	for _, k := range []string{"po_number", "poNumber", "PO"} {
		if s, ok := obj[k]; ok && s != nil {
			if str := strings.TrimSpace(fmt.Sprint(s)); str != "" {
				return str
			}
		}
	}
	return DefaultPONumber
}
