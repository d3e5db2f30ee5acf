package exporter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/adapter/repository"
	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

func reportRun() domain.RunRecord {
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.RunRecord{
		ID:         "4b7d1c2e-0000-4000-8000-000000000001",
		State:      domain.RunCompleted,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Report: &domain.AnalysisSummary{
			AttackVector: "Card skimmer exfiltrating checkout form",
			ThreatLevel:  domain.ThreatCritical,
			IOCs: []domain.Indicator{
				{Type: domain.URL, Value: "http://evil.xyz/gate?a=b", Context: "exfil endpoint"},
				{Type: domain.IPAddress, Value: "203.0.113.7", Context: domain.StaticSignatureContext},
				{Type: domain.SHA1, Value: "da39a3ee5e6b4b0d3255bfef95601890afd80709", Context: "payload"},
				{Type: domain.Domain, Value: "ajax.googleapis.com", Context: "loader " + domain.KnownGoodNote},
			},
		},
	}
}

func TestCalculateConfidence(t *testing.T) {
	tests := []struct {
		name  string
		ioc   domain.Indicator
		level domain.ThreatLevel
		want  int
	}{
		{"Model reported, no report", domain.Indicator{Context: "beacon"}, "", 70},
		{"Static match", domain.Indicator{Context: domain.StaticSignatureContext}, "", 80},
		{"Static match on critical", domain.Indicator{Context: domain.StaticSignatureContext}, domain.ThreatCritical, 90},
		{"High", domain.Indicator{}, domain.ThreatHigh, 75},
		{"Known good", domain.Indicator{Context: domain.KnownGoodNote}, domain.ThreatLow, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateConfidence(tt.ioc, tt.level); got != tt.want {
				t.Errorf("calculateConfidence() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSTIXExporter_ExportRun(t *testing.T) {
	e := NewSTIXExporter(repository.NewMemoryRepository())

	out, err := e.ExportRun(reportRun())
	if err != nil {
		t.Fatalf("ExportRun: %v", err)
	}

	var bundle STIXBundle
	if err := json.Unmarshal([]byte(out), &bundle); err != nil {
		t.Fatalf("invalid bundle JSON: %v", err)
	}
	if bundle.Type != "bundle" || !strings.HasPrefix(bundle.ID, "bundle--") {
		t.Errorf("bad bundle header: %+v", bundle)
	}
	if len(bundle.Objects) != 5 {
		t.Fatalf("objects = %d, want 4 indicators and 1 analysis", len(bundle.Objects))
	}

	wantPatterns := []string{
		"[url:value = 'http://evil.xyz/gate?a=b']",
		"[ipv4-addr:value = '203.0.113.7']",
		"[file:hashes.'SHA-1' = 'da39a3ee5e6b4b0d3255bfef95601890afd80709']",
		"[domain-name:value = 'ajax.googleapis.com']",
	}
	for i, want := range wantPatterns {
		if bundle.Objects[i].Pattern != want {
			t.Errorf("object %d pattern = %q, want %q", i, bundle.Objects[i].Pattern, want)
		}
		if bundle.Objects[i].Created != "2025-03-01T12:00:00Z" {
			t.Errorf("object %d created = %q", i, bundle.Objects[i].Created)
		}
	}

	analysis := bundle.Objects[4]
	if analysis.Type != "malware-analysis" || analysis.ResultName != "critical" || len(analysis.SampleRefs) != 4 {
		t.Errorf("analysis object = %+v", analysis)
	}
	if analysis.SampleRefs[0] != bundle.Objects[0].ID {
		t.Errorf("sample ref %q does not point at first indicator", analysis.SampleRefs[0])
	}
}

func TestSTIXExporter_StaticOnlyRun(t *testing.T) {
	e := NewSTIXExporter(repository.NewMemoryRepository())
	run := domain.RunRecord{
		ID:               "r",
		StaticIndicators: []domain.Indicator{{Type: domain.MD5, Value: "d41d8cd98f00b204e9800998ecf8427e", Context: domain.StaticSignatureContext}},
	}

	out, err := e.ExportRun(run)
	if err != nil {
		t.Fatalf("ExportRun: %v", err)
	}
	var bundle STIXBundle
	json.Unmarshal([]byte(out), &bundle)

	if len(bundle.Objects) != 1 || bundle.Objects[0].Pattern != "[file:hashes.'MD5' = 'd41d8cd98f00b204e9800998ecf8427e']" {
		t.Errorf("objects = %+v", bundle.Objects)
	}
	if len(bundle.Objects[0].Labels) != 0 {
		t.Errorf("no threat-level label expected without report: %v", bundle.Objects[0].Labels)
	}
}

func TestBuildPattern_Escapes(t *testing.T) {
	e := &STIXExporter{}
	got := e.buildPattern(domain.Indicator{Type: domain.URL, Value: `http://x.xyz/?q='a'\b`})
	want := `[url:value = 'http://x.xyz/?q=\'a\'\\b']`
	if got != want {
		t.Errorf("buildPattern() = %q, want %q", got, want)
	}
}

func TestSTIXExporter_ExportFeed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	run := reportRun()
	run.FinishedAt = time.Now()
	repo.SaveRun(context.Background(), run)

	out, err := NewSTIXExporter(repo).Export(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Count(out, `"type": "indicator"`) != 4 {
		t.Errorf("feed should hold the run's 4 indicators:\n%s", out)
	}
}

func TestCEFExporter_ExportRun(t *testing.T) {
	out := NewCEFExporter(repository.NewMemoryRepository()).ExportRun(reportRun())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(lines))
	}

	first := lines[0]
	if !strings.HasPrefix(first, "CEF:0|HiveCorporation|DFIR-Engine|1.0|URL|URL Indicator Recovered|8|") {
		t.Errorf("unexpected header: %s", first)
	}
	if !strings.Contains(first, `request=http://evil.xyz/gate?a\=b`) {
		t.Errorf("URL value not escaped: %s", first)
	}
	if !strings.Contains(first, "cs1=critical") || !strings.Contains(first, "rt=1740830400000") {
		t.Errorf("missing extensions: %s", first)
	}
	if !strings.Contains(lines[1], "dst=203.0.113.7") || !strings.Contains(lines[1], "|10|") {
		t.Errorf("static IP line: %s", lines[1])
	}
	if !strings.Contains(lines[3], "dhost=ajax.googleapis.com") || !strings.Contains(lines[3], "|2|") {
		t.Errorf("known-good line: %s", lines[3])
	}
}

func TestCalculateSeverity(t *testing.T) {
	tests := map[int]int{95: 10, 80: 8, 70: 6, 65: 4, 10: 2}
	for confidence, want := range tests {
		if got := calculateSeverity(confidence); got != want {
			t.Errorf("calculateSeverity(%d) = %d, want %d", confidence, got, want)
		}
	}
}

func TestEscapeField(t *testing.T) {
	got := escapeField("a|b=c\\d\ne")
	want := `a\|b\=c\\d\ne`
	if got != want {
		t.Errorf("escapeField() = %q, want %q", got, want)
	}
}
