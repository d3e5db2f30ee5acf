package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// STIXExporter exports recovered indicators in STIX 2.1 format for SIEM ingestion
type STIXExporter struct {
	repo ports.RunRepository
}

func NewSTIXExporter(repo ports.RunRepository) *STIXExporter {
	return &STIXExporter{repo: repo}
}

// Export generates a STIX 2.1 bundle of every indicator recorded since the given time
func (e *STIXExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	iocs, err := e.repo.FindIndicatorsSince(ctx, since, feedLimit)
	if err != nil {
		return "", fmt.Errorf("failed to fetch indicators: %w", err)
	}

	bundle := newBundle()
	now := time.Now().UTC()
	for _, ioc := range iocs {
		bundle.Objects = append(bundle.Objects, e.convertToSTIX(ioc, "", nil, now))
	}

	return marshalBundle(bundle)
}

// ExportRun generates a STIX 2.1 bundle for one run. When the run has a report, the
// bundle also carries a malware-analysis object referencing every indicator.
func (e *STIXExporter) ExportRun(run domain.RunRecord) (string, error) {
	bundle := newBundle()
	level := threatLevelOf(run)

	created := run.FinishedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}

	var labels []string
	if level != "" {
		labels = []string{"threat-level:" + string(level)}
	}

	var refs []string
	for _, ioc := range run.Indicators() {
		indicator := e.convertToSTIX(ioc, level, labels, created)
		bundle.Objects = append(bundle.Objects, indicator)
		refs = append(refs, indicator.ID)
	}

	if run.Report != nil {
		bundle.Objects = append(bundle.Objects, STIXObject{
			Type:        "malware-analysis",
			SpecVersion: "2.1",
			ID:          fmt.Sprintf("malware-analysis--%s", uuid.New().String()),
			Created:     created.Format(time.RFC3339),
			Modified:    created.Format(time.RFC3339),
			Product:     "dfir-engine",
			Description: run.Report.AttackVector,
			ResultName:  string(level),
			Labels:      labels,
			SampleRefs:  refs,
		})
	}

	return marshalBundle(bundle)
}

func (e *STIXExporter) convertToSTIX(ioc domain.Indicator, level domain.ThreatLevel, labels []string, now time.Time) STIXObject {
	return STIXObject{
		Type:           "indicator",
		SpecVersion:    "2.1",
		ID:             fmt.Sprintf("indicator--%s", uuid.New().String()),
		Created:        now.Format(time.RFC3339),
		Modified:       now.Format(time.RFC3339),
		Name:           fmt.Sprintf("%s Indicator", strings.ToUpper(string(ioc.Type))),
		Description:    ioc.Context,
		Pattern:        e.buildPattern(ioc),
		PatternType:    "stix",
		ValidFrom:      now.Format(time.RFC3339),
		IndicatorTypes: []string{"malicious-activity"},
		Confidence:     calculateConfidence(ioc, level),
		Labels:         labels,
	}
}

func (e *STIXExporter) buildPattern(ioc domain.Indicator) string {
	value := escapePatternValue(ioc.Value)

	switch ioc.Type {
	case domain.IPAddress:
		return fmt.Sprintf("[ipv4-addr:value = '%s']", value)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", value)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", value)
	case domain.MD5, domain.SHA1, domain.SHA256:
		return fmt.Sprintf("[file:hashes.'%s' = '%s']", hashAlgorithm(ioc.Type), value)
	default:
		return fmt.Sprintf("[x-custom:value = '%s']", value)
	}
}

func hashAlgorithm(t domain.IOCType) string {
	switch t {
	case domain.MD5:
		return "MD5"
	case domain.SHA1:
		return "SHA-1"
	default:
		return "SHA-256"
	}
}

// escapePatternValue escapes quotes and backslashes inside STIX pattern string literals
func escapePatternValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func newBundle() STIXBundle {
	return STIXBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--%s", uuid.New().String()),
		Objects: []STIXObject{},
	}
}

func marshalBundle(bundle STIXBundle) (string, error) {
	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}
	return string(jsonData), nil
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type           string   `json:"type"`
	SpecVersion    string   `json:"spec_version"`
	ID             string   `json:"id"`
	Created        string   `json:"created"`
	Modified       string   `json:"modified"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	PatternType    string   `json:"pattern_type,omitempty"`
	ValidFrom      string   `json:"valid_from,omitempty"`
	IndicatorTypes []string `json:"indicator_types,omitempty"`
	Confidence     int      `json:"confidence,omitempty"`
	Labels         []string `json:"labels,omitempty"`

	// malware-analysis
	Product    string   `json:"product,omitempty"`
	ResultName string   `json:"result_name,omitempty"`
	SampleRefs []string `json:"sample_refs,omitempty"`
}
