package workbench

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	LargeOrderQty  = 5000
	MaxPolicyQty   = 10000
	criticalRatio  = 0.2
	WarnLargeOrder = "⚠️ Large quantity order - requires additional approval"
	WarnCritical   = "🔴 Critical stock level - expedited shipping recommended"
)

// Settings carries the ERP target chosen by the buyer.
type Settings struct {
	ERP         string `json:"erp"`
	Environment string `json:"environment"`
	DryRun      bool   `json:"dry_run"`
}

func DefaultSettings() Settings {
	return Settings{ERP: "SAP", Environment: "Dev", DryRun: true}
}

// Payload is the JSON document the PO creation pipeline receives.
type Payload struct {
	RecID          string `json:"rec_id"`
	SKU            string `json:"sku"`
	SKUID          string `json:"sku_id"`
	Location       string `json:"location"`
	ShortageDate   string `json:"shortage_date"`
	RecommendedQty int    `json:"recommended_qty"`
	Supplier       string `json:"supplier"`
	Justification  string `json:"justification"`
	ERP            string `json:"erp"`
	Environment    string `json:"environment"`
	DryRun         bool   `json:"dry_run"`
}

func Warnings(r Recommendation) []string {
	var out []string
	if r.RecommendedQty > LargeOrderQty {
		out = append(out, WarnLargeOrder)
	}
	if float64(r.OnHand) < float64(r.SafetyStock)*criticalRatio {
		out = append(out, WarnCritical)
	}
	return out
}

// PolicyOK reports whether the quantity is within buyer authority.
func PolicyOK(r Recommendation) bool {
	return r.RecommendedQty >= 0 && r.RecommendedQty <= MaxPolicyQty
}

func DefaultJustification(r Recommendation) string {
	return fmt.Sprintf("Auto-generated: %s (gap %d)", r.Reason, r.ForecastGap)
}

var sapAccounts = map[string]string{"Dev": "sap_dev", "QA": "sap_qa", "Prod": "sap_prod"}

// AccountName picks the ERP account the pipeline should use.
// NetSuite shares one token account across environments.
func AccountName(erp, env, netSuiteAccount string) string {
	if erp == "NetSuite" {
		return netSuiteAccount
	}
	if a, ok := sapAccounts[env]; ok {
		return a
	}
	return "sap_" + strings.ToLower(env)
}

// Endpoint appends the bearer token and the fully escaped account name to base.
func Endpoint(base, token, account string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "bearer_token=" + escape(token) + "&accountName=" + escape(account)
}

// escape percent-encodes everything but unreserved characters, so "/" and " " become %2F and %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func BuildPayload(r Recommendation, justification string, s Settings) Payload {
	return Payload{
		RecID:          r.RecID,
		SKU:            r.SKU,
		SKUID:          r.SKUID,
		Location:       r.Location,
		ShortageDate:   r.ShortageDate,
		RecommendedQty: r.RecommendedQty,
		Supplier:       r.Supplier,
		Justification:  justification,
		ERP:            s.ERP,
		Environment:    s.Environment,
		DryRun:         s.DryRun,
	}
}
