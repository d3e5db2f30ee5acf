package exporter

import (
	"strings"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

// feedLimit caps the number of indicators fetched for a time-window feed
const feedLimit = 10000

// calculateConfidence scores an indicator from where it came from and the run's threat level
func calculateConfidence(ioc domain.Indicator, level domain.ThreatLevel) int {
	confidence := 70 // Base confidence

	// Literally present in the recovered source
	if ioc.Context == domain.StaticSignatureContext {
		confidence += 10
	}

	switch level {
	case domain.ThreatCritical:
		confidence += 10
	case domain.ThreatHigh:
		confidence += 5
	}

	// Legitimate infrastructure referenced by the script
	if strings.Contains(ioc.Context, domain.KnownGoodNote) {
		confidence -= 40
	}

	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	return confidence
}

func threatLevelOf(run domain.RunRecord) domain.ThreatLevel {
	if run.Report == nil {
		return ""
	}
	return run.Report.ThreatLevel
}
