package llm

import (
	"strings"

	"github.com/charmbracelet/log"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// Guardrails provide rule-based validation of model-produced analysis reports

// KnownGoodIndicators are hosts that scripts commonly reference for legitimate reasons
var KnownGoodIndicators = []string{
	// Microsoft domains
	"microsoft.com",
	"windowsupdate.com",
	"office.com",
	"live.com",

	// Cloud providers
	"amazonaws.com",
	"cloudfront.net",
	"googleapis.com",
	"gstatic.com",
	"azure.com",

	// CDNs
	"cloudflare.com",
	"jsdelivr.net",
	"unpkg.com",
	"akamai.net",
	"fastly.net",

	// Common services
	"apple.com",
	"google.com",
	"mozilla.org",
	"w3.org",
	"jquery.com",
}

// KnownGoodNote is appended to the context of indicators matching KnownGoodIndicators.
const KnownGoodNote = domain.KnownGoodNote

// GuardrailConfig controls guardrail behavior
type GuardrailConfig struct {
	// RequireEvidenceForCritical downgrades critical reports that carry no
	// indicator outside known legitimate infrastructure (default: true)
	RequireEvidenceForCritical bool
	// DefaultRemediation fills remediation steps the model left out (default: true)
	DefaultRemediation bool
	// KnownGood extends KnownGoodIndicators, e.g. with hosts from an allowlist feed
	KnownGood []string
}

// DefaultGuardrailConfig returns the default configuration
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		RequireEvidenceForCritical: true,
		DefaultRemediation:         true,
	}
}

// ReportFilter returns a function suitable for pipeline.Config.ReportFilter.
func ReportFilter(config GuardrailConfig, logger *log.Logger) func(*domain.AnalysisSummary) {
	if logger == nil {
		logger = log.Default()
	}
	return func(report *domain.AnalysisSummary) {
		ApplyReportGuardrails(report, config, logger)
	}
}

// ApplyReportGuardrails validates and adjusts a parsed report in place
func ApplyReportGuardrails(report *domain.AnalysisSummary, config GuardrailConfig, logger *log.Logger) {
	if report == nil {
		return
	}

	// Guardrail 1: threat level must be one of low|medium|high|critical
	normalized := domain.NormalizeThreatLevel(string(report.ThreatLevel))
	if normalized != report.ThreatLevel {
		logger.Warn("⚠️ Guardrail: normalizing threat level", "from", report.ThreatLevel, "to", normalized)
		RecordGuardrail("threat_level", "normalize")
		report.ThreatLevel = normalized
	}

	// Guardrail 2: indicators need a value and a canonical type
	kept := report.IOCs[:0]
	evidence := 0
	for _, ioc := range report.IOCs {
		ioc.Value = strings.TrimSpace(ioc.Value)
		if ioc.Value == "" {
			RecordGuardrail("ioc", "drop")
			continue
		}
		ioc.Type = domain.NormalizeIOCType(string(ioc.Type))

		// Guardrail 3: flag legitimate infrastructure instead of dropping it
		if isKnownGoodIndicator(ioc.Value, config.KnownGood) {
			if !strings.Contains(ioc.Context, KnownGoodNote) {
				ioc.Context = strings.TrimSpace(ioc.Context + " " + KnownGoodNote)
				RecordGuardrail("ioc", "annotate")
			}
		} else {
			evidence++
		}
		kept = append(kept, ioc)
	}
	if dropped := len(report.IOCs) - len(kept); dropped > 0 {
		logger.Warn("⚠️ Guardrail: dropped empty indicators", "count", dropped)
	}
	report.IOCs = kept

	// Guardrail 4: critical needs at least one indicator outside known-good infrastructure
	if config.RequireEvidenceForCritical && report.ThreatLevel == domain.ThreatCritical && evidence == 0 {
		logger.Warn("⚠️ Guardrail: critical threat level without independent indicators - downgrading to high")
		RecordGuardrail("threat_level", "downgrade")
		report.ThreatLevel = domain.ThreatHigh
	}

	// Guardrail 5: detection rules need content and a known rule language
	rules := report.DetectionRules[:0]
	for _, rule := range report.DetectionRules {
		if strings.TrimSpace(rule.Content) == "" {
			RecordGuardrail("detection_rule", "drop")
			continue
		}
		rule.Type = normalizeRuleType(rule.Type)
		rules = append(rules, rule)
	}
	report.DetectionRules = rules

	// Guardrail 6: responders always get remediation steps
	if config.DefaultRemediation && len(report.RemediationSteps) == 0 {
		RecordGuardrail("remediation", "default")
		report.RemediationSteps = getDefaultRemediation(report.ThreatLevel)
	}

	RecordThreatLevel(string(report.ThreatLevel))
	logger.Debug("🛡️ Guardrails applied", "threat_level", report.ThreatLevel, "iocs", len(report.IOCs), "rules", len(report.DetectionRules))
}

// Helper functions

func isKnownGoodIndicator(value string, extra []string) bool {
	host := strings.ToLower(value)
	if i := strings.Index(host, "://"); i != -1 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:?#"); i != -1 {
		host = host[:i]
	}
	for _, list := range [][]string{KnownGoodIndicators, extra} {
		for _, good := range list {
			if host == good || strings.HasSuffix(host, "."+good) {
				return true
			}
		}
	}
	return false
}

func normalizeRuleType(ruleType string) string {
	switch strings.ToLower(strings.TrimSpace(ruleType)) {
	case "yara":
		return "YARA"
	case "sigma":
		return "Sigma"
	case "snort", "suricata", "ids":
		return "IDS"
	default:
		return strings.TrimSpace(ruleType)
	}
}

func getDefaultRemediation(level domain.ThreatLevel) []string {
	switch level {
	case domain.ThreatCritical:
		return []string{
			"Remove the script from every page or package that serves it",
			"Block all listed network indicators at the perimeter",
			"Rotate credentials and tokens that may have been exposed",
			"Initiate incident response procedures",
		}
	case domain.ThreatHigh:
		return []string{
			"Remove the script from affected assets",
			"Block the listed network indicators",
			"Review access logs for requests to the listed endpoints",
		}
	case domain.ThreatMedium:
		return []string{
			"Review where the script is loaded from",
			"Monitor for traffic to the listed indicators",
		}
	default:
		return []string{
			"Document findings for future reference",
		}
	}
}
