package exporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// CEFExporter exports recovered indicators in Common Event Format for SIEM ingestion
type CEFExporter struct {
	repo ports.RunRepository
}

func NewCEFExporter(repo ports.RunRepository) *CEFExporter {
	return &CEFExporter{repo: repo}
}

// Export generates a CEF feed of every indicator recorded since the given time
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	iocs, err := e.repo.FindIndicatorsSince(ctx, since, feedLimit)
	if err != nil {
		return "", fmt.Errorf("failed to fetch indicators: %w", err)
	}

	var output strings.Builder
	now := time.Now()
	for _, ioc := range iocs {
		output.WriteString(e.formatCEF(CEFEntry{
			Value:      ioc.Value,
			Type:       ioc.Type,
			Context:    ioc.Context,
			Confidence: calculateConfidence(ioc, ""),
			Seen:       now,
		}))
		output.WriteString("\n")
	}

	return output.String(), nil
}

// ExportRun generates one CEF line per indicator of the run
func (e *CEFExporter) ExportRun(run domain.RunRecord) string {
	level := threatLevelOf(run)
	seen := run.FinishedAt
	if seen.IsZero() {
		seen = time.Now()
	}

	var output strings.Builder
	for _, ioc := range run.Indicators() {
		output.WriteString(e.formatCEF(CEFEntry{
			Value:       ioc.Value,
			Type:        ioc.Type,
			Context:     ioc.Context,
			RunID:       run.ID,
			ThreatLevel: level,
			Confidence:  calculateConfidence(ioc, level),
			Seen:        seen,
		}))
		output.WriteString("\n")
	}
	return output.String()
}

func (e *CEFExporter) formatCEF(ioc CEFEntry) string {
	vendor := "HiveCorporation"
	product := "DFIR-Engine"
	version := "1.0"
	signatureID := string(ioc.Type)
	name := fmt.Sprintf("%s Indicator Recovered", strings.ToUpper(string(ioc.Type)))
	severity := calculateSeverity(ioc.Confidence)

	extensions := []string{
		fmt.Sprintf("%s=%s", extensionKey(ioc.Type), escapeField(ioc.Value)),
		"cn1Label=ConfidenceScore",
		fmt.Sprintf("cn1=%d", ioc.Confidence),
		"cs1Label=ThreatLevel",
		fmt.Sprintf("cs1=%s", escapeField(string(ioc.ThreatLevel))),
		"cs2Label=Context",
		fmt.Sprintf("cs2=%s", escapeField(ioc.Context)),
		"cs3Label=RunID",
		fmt.Sprintf("cs3=%s", escapeField(ioc.RunID)),
		fmt.Sprintf("rt=%d", ioc.Seen.UnixMilli()),
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, version, signatureID, name, severity, strings.Join(extensions, " "))
}

// extensionKey picks the CEF dictionary key that fits the indicator type
func extensionKey(t domain.IOCType) string {
	switch t {
	case domain.IPAddress:
		return "dst"
	case domain.Domain:
		return "dhost"
	case domain.URL:
		return "request"
	case domain.MD5, domain.SHA1, domain.SHA256:
		return "fileHash"
	default:
		return "msg"
	}
}

func calculateSeverity(confidence int) int {
	// Map confidence (0-100) to CEF severity (0-10)
	if confidence >= 90 {
		return 10 // Critical
	} else if confidence >= 80 {
		return 8 // High
	} else if confidence >= 70 {
		return 6 // Medium
	} else if confidence >= 60 {
		return 4 // Low
	}
	return 2 // Info
}

func escapeField(s string) string {
	// Escape special characters in CEF extension values
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}

// CEFEntry represents an indicator for CEF export
type CEFEntry struct {
	Value       string
	Type        domain.IOCType
	Context     string
	RunID       string
	ThreatLevel domain.ThreatLevel
	Confidence  int
	Seen        time.Time
}
