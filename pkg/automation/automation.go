// Package automation defines the value model for automation account diagnostics.
// Every value is a run-scoped snapshot: fetched once, handed to the sink, dropped.
package automation

import (
	"strings"
	"time"
)

// Account identifies an automation account. It scopes every remote call.
type Account struct {
	SubscriptionID string `json:"subscription_id" yaml:"subscription_id"`
	ResourceGroup  string `json:"resource_group" yaml:"resource_group"`
	Name           string `json:"name" yaml:"name"`
	Location       string `json:"location,omitempty" yaml:"location,omitempty"`
}

// Key returns the resource-group scoped account key.
func (a Account) Key() string {
	return a.ResourceGroup + "/" + a.Name
}

// Namespace returns a filesystem-safe name for the account's result folder.
func (a Account) Namespace() string {
	return SafeName(a.ResourceGroup + "_" + a.Name)
}

// AssetKind is a configuration asset type owned by an account.
type AssetKind string

const (
	KindModule      AssetKind = "module"
	KindVariable    AssetKind = "variable"
	KindCredential  AssetKind = "credential"
	KindCertificate AssetKind = "certificate"
	KindConnection  AssetKind = "connection"
	KindSchedule    AssetKind = "schedule"
	// KindJobSchedule is a scheduled-runbook binding, keyed by job-schedule id.
	KindJobSchedule AssetKind = "job_schedule"
)

// AssetKinds lists every kind in collection order.
func AssetKinds() []AssetKind {
	return []AssetKind{
		KindModule,
		KindVariable,
		KindCredential,
		KindCertificate,
		KindConnection,
		KindSchedule,
		KindJobSchedule,
	}
}

// TableName returns the artifact name used for the kind's table.
func (k AssetKind) TableName() string {
	switch k {
	case KindJobSchedule:
		return "scheduled_runbooks"
	default:
		return string(k) + "s"
	}
}

// AssetSummary is a list entry for an asset.
type AssetSummary struct {
	Name string `json:"name" yaml:"name"`
}

// Asset is the full detail record of one asset.
type Asset struct {
	Kind   AssetKind         `json:"kind" yaml:"kind"`
	Name   string            `json:"name" yaml:"name"`
	Fields map[string]string `json:"fields" yaml:"fields"`
}

// SafeName replaces path separators and other awkward characters.
func SafeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
