package webchat

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/snapdesk/pkg/workbench"
)

type recommendationView struct {
	workbench.Recommendation
	Display string `json:"display"`
}

type recommendationDetail struct {
	Recommendation       recommendationView `json:"recommendation"`
	Warnings             []string           `json:"warnings"`
	PolicyOK             bool               `json:"policy_ok"`
	DefaultJustification string             `json:"default_justification"`
}

type approveBody struct {
	Justification string  `json:"justification"`
	ERP           *string `json:"erp"`
	Environment   *string `json:"environment"`
	DryRun        *bool   `json:"dry_run"`
}

type workbenchView struct {
	Metrics   workbench.Metrics
	Locations []string
	Suppliers []string
	Defaults  workbench.Settings
}

func viewOf(r workbench.Recommendation) recommendationView {
	return recommendationView{Recommendation: r, Display: r.Display()}
}

func viewsOf(recs []workbench.Recommendation) []recommendationView {
	out := make([]recommendationView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewOf(r))
	}
	return out
}

// filterFromQuery reads repeated or comma separated location and supplier values plus window_days.
func filterFromQuery(r *http.Request) (workbench.Filter, error) {
	q := r.URL.Query()
	f := workbench.Filter{
		Locations: splitValues(q["location"]),
		Suppliers: splitValues(q["supplier"]),
		Now:       time.Now(),
	}
	if s := strings.TrimSpace(q.Get("window_days")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, errors.Errorf("invalid window_days %q", s)
		}
		f.WindowDays = n
	}
	return f, nil
}

func splitValues(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (a *App) settingsFrom(b approveBody) workbench.Settings {
	s := a.settings
	if b.ERP != nil && *b.ERP != "" {
		s.ERP = *b.ERP
	}
	if b.Environment != nil && *b.Environment != "" {
		s.Environment = *b.Environment
	}
	if b.DryRun != nil {
		s.DryRun = *b.DryRun
	}
	return s
}

func workbenchStatus(err error) int {
	var te *workbench.TransitionError
	var pe *workbench.PolicyError
	switch {
	case errors.Is(err, workbench.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &te):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (a *App) handleWorkbenchPage(w http.ResponseWriter, r *http.Request) {
	sessionID(w, r)
	a.renderTemplate(w, "workbench.html", workbenchView{
		Metrics:   a.queue.Metrics(),
		Locations: a.queue.Locations(),
		Suppliers: a.queue.Suppliers(),
		Defaults:  a.settings,
	})
}

func (a *App) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": viewsOf(a.queue.List(f)),
		"metrics":         a.queue.Metrics(),
		"locations":       a.queue.Locations(),
		"suppliers":       a.queue.Suppliers(),
	})
}

func (a *App) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := a.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, workbenchStatus(err), err, "", nil)
		return
	}
	warnings := workbench.Warnings(rec)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, recommendationDetail{
		Recommendation:       viewOf(rec),
		Warnings:             warnings,
		PolicyOK:             workbench.PolicyOK(rec),
		DefaultJustification: workbench.DefaultJustification(rec),
	})
}

func (a *App) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"), "", nil)
		return
	}
	rec, err := a.queue.Approve(r.Context(), r.PathValue("id"), body.Justification, a.settingsFrom(body))
	if err != nil {
		var detail any
		if rec.RecID != "" {
			detail = viewOf(rec)
		}
		writeError(w, workbenchStatus(err), err, "❌ Failed to create PO: "+err.Error(), detail)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (a *App) handleReject(w http.ResponseWriter, r *http.Request) {
	rec, err := a.queue.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, workbenchStatus(err), err, "", nil)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (a *App) handleAutoApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"), "", nil)
		return
	}
	recs, err := a.queue.AutoApproveSmall(r.Context(), a.settingsFrom(body))
	resp := map[string]any{"recommendations": viewsOf(recs), "metrics": a.queue.Metrics()}
	if err != nil {
		resp["error"] = err.Error()
		resp["banner"] = "❌ Failed to create PO: " + err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.queue.Metrics())
}

func (a *App) handleActivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.queue.Activity())
}

func (a *App) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "", nil)
		return
	}
	var buf bytes.Buffer
	if err := workbench.ExportCSV(&buf, a.queue.List(f)); err != nil {
		writeError(w, http.StatusInternalServerError, err, "", nil)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="po_recommendations.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (a *App) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "", nil)
		return
	}
	var buf bytes.Buffer
	if err := workbench.ExportXLSX(&buf, a.queue.List(f)); err != nil {
		writeError(w, http.StatusInternalServerError, err, "", nil)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="po_recommendations.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}
