package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// NormalizeThreatLevel maps free-form model output onto the four known levels.
// Unknown values become medium.
func NormalizeThreatLevel(level string) ThreatLevel {
	switch ThreatLevel(strings.ToLower(strings.TrimSpace(level))) {
	case ThreatLow:
		return ThreatLow
	case ThreatHigh:
		return ThreatHigh
	case ThreatCritical:
		return ThreatCritical
	default:
		return ThreatMedium
	}
}

// Rank orders threat levels (low=1 ... critical=4)
func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	case ThreatCritical:
		return 4
	default:
		return 0
	}
}

type DetectionRule struct {
	Type        string `json:"type" jsonschema:"enum=YARA,enum=Sigma,description=Rule language"`
	Content     string `json:"content" jsonschema:"description=Full rule text"`
	Description string `json:"description"`
}

// AnalysisSummary is the structured report produced by the analysis step
type AnalysisSummary struct {
	AttackVector     string          `json:"attackVector" jsonschema:"description=Technical summary of the attack"`
	Impacts          []string        `json:"impacts" jsonschema:"description=Harmful activities performed by the script"`
	IOCs             []Indicator     `json:"ioCs" jsonschema:"description=Indicators of compromise with context"`
	FlowDescription  []string        `json:"flowDescription" jsonschema:"description=Ordered execution steps"`
	ThreatLevel      ThreatLevel     `json:"threatLevel" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	DetectionRules   []DetectionRule `json:"detectionRules" jsonschema:"description=YARA or Sigma rules for this variant"`
	RemediationSteps []string        `json:"remediationSteps" jsonschema:"description=Steps for incident responders"`
}

// ParseAnalysisSummary decodes a JSON report, tolerating a surrounding markdown fence.
// flowDescription may arrive as a single string instead of a list.
func ParseAnalysisSummary(response string) (*AnalysisSummary, error) {
	jsonStr := extractJSONBlock(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("empty analysis response")
	}
	if !strings.HasPrefix(jsonStr, "{") {
		return nil, fmt.Errorf("analysis response is not a JSON object")
	}

	var raw struct {
		AnalysisSummary
		FlowDescription json.RawMessage `json:"flowDescription"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	summary := raw.AnalysisSummary
	flow, err := decodeFlow(raw.FlowDescription)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flowDescription: %w", err)
	}
	summary.FlowDescription = flow

	return &summary, nil
}

func decodeFlow(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var steps []string
	if err := json.Unmarshal(raw, &steps); err == nil {
		return steps, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []string{single}, nil
}

func extractJSONBlock(response string) string {
	jsonStr := response
	if idx := strings.Index(response, "```json"); idx != -1 {
		jsonStr = response[idx+7:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		jsonStr = response[idx+3:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	}
	return strings.TrimSpace(jsonStr)
}

// MergeIndicators appends static indicators to existing ones, skipping any whose value
// case-insensitively matches a value already present (whatever its type or origin).
// existing is never modified.
func MergeIndicators(existing, static []Indicator) []Indicator {
	merged := make([]Indicator, 0, len(existing)+len(static))
	seen := make(map[string]bool, len(existing)+len(static))

	for _, ioc := range existing {
		merged = append(merged, ioc)
		seen[NormalizeIOCValue(ioc.Value)] = true
	}

	for _, ioc := range static {
		key := NormalizeIOCValue(ioc.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, ioc)
	}

	return merged
}

// MergeStaticIndicators folds locally scanned indicators into the report's IOC list
func (s *AnalysisSummary) MergeStaticIndicators(static []Indicator) {
	if s == nil {
		return
	}
	s.IOCs = MergeIndicators(s.IOCs, static)
}
