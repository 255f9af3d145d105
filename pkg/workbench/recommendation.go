package workbench

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusPending  Status = "Pending"
	StatusCreated  Status = "Created"
	StatusRejected Status = "Rejected"
	StatusFailed   Status = "Failed"
)

// Recommendation is one suggested purchase order waiting for a buyer.
type Recommendation struct {
	RecID          string `json:"rec_id" yaml:"rec_id"`
	SKU            string `json:"sku" yaml:"sku"`
	SKUID          string `json:"sku_id" yaml:"sku_id"`
	Location       string `json:"location" yaml:"location"`
	ShortageDate   string `json:"shortage_date" yaml:"shortage_date"`
	RecommendedQty int    `json:"recommended_qty" yaml:"recommended_qty"`
	Supplier       string `json:"supplier" yaml:"supplier"`
	SafetyStock    int    `json:"safety_stock" yaml:"safety_stock"`
	OnHand         int    `json:"on_hand" yaml:"on_hand"`
	Inbound        int    `json:"inbound" yaml:"inbound"`
	ForecastGap    int    `json:"forecast_gap" yaml:"forecast_gap"`
	Reason         string `json:"reason" yaml:"reason"`
	Status         Status `json:"status" yaml:"status"`
	PONumber       string `json:"po_number,omitempty" yaml:"po_number,omitempty"`
	LastError      string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Display is the status column text, e.g. "Created: PO-1234".
func (r Recommendation) Display() string {
	if r.Status == StatusCreated && r.PONumber != "" {
		return string(StatusCreated) + ": " + r.PONumber
	}
	return string(r.Status)
}

var shortageLayouts = []string{"01/02/2006", "2006-01-02", time.RFC3339}

// ShortageTime parses the shortage date. Both US "11/18/2025" and ISO dates are accepted.
func (r Recommendation) ShortageTime() (time.Time, bool) {
	s := strings.TrimSpace(r.ShortageDate)
	for _, layout := range shortageLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type recommendationsFile struct {
	Recommendations []Recommendation `yaml:"recommendations"`
}

// LoadFile reads recommendations from a YAML or JSON file. The file may hold a bare list
// or an object with a recommendations key.
func LoadFile(path string) ([]Recommendation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read recommendations %s", path)
	}
	recs, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", filepath.Base(path))
	}
	return recs, nil
}

// Parse decodes YAML or JSON recommendations and checks that ids are unique.
func Parse(b []byte) ([]Recommendation, error) {
	var recs []Recommendation
	if err := yaml.Unmarshal(b, &recs); err != nil {
		var wrapped recommendationsFile
		if err2 := yaml.Unmarshal(b, &wrapped); err2 != nil {
			return nil, errors.Wrap(err, "decode recommendations")
		}
		recs = wrapped.Recommendations
	}

	seen := map[string]struct{}{}
	for i := range recs {
		r := &recs[i]
		if strings.TrimSpace(r.RecID) == "" {
			return nil, errors.Errorf("recommendation %d: empty rec_id", i)
		}
		if _, ok := seen[r.RecID]; ok {
			return nil, errors.Errorf("recommendation %s: duplicate rec_id", r.RecID)
		}
		seen[r.RecID] = struct{}{}
		if r.Status == "" {
			r.Status = StatusPending
		}
		switch r.Status {
		case StatusPending, StatusCreated, StatusRejected, StatusFailed:
		default:
			return nil, errors.Errorf("recommendation %s: unknown status %q", r.RecID, r.Status)
		}
	}
	return recs, nil
}
