package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

const DefaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

// maxListedIndicators limits indicator sections to keep messages short
const maxListedIndicators = 5

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

var _ ports.Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      DefaultSlackAPIURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL points the notifier at another chat.postMessage endpoint
func (s *SlackNotifier) WithAPIURL(url string) *SlackNotifier {
	s.apiURL = url
	return s
}

// NotifyRunCompleted sends the run's threat level and indicators to Slack
func (s *SlackNotifier) NotifyRunCompleted(run domain.RunRecord) error {
	blocks := s.buildCompletedBlocks(run)

	text := fmt.Sprintf("✅ Deobfuscation run %s completed", shortID(run.ID))
	if run.Report != nil {
		text = fmt.Sprintf("%s %s: deobfuscation run %s completed",
			severityEmoji(run.Report.ThreatLevel), strings.ToUpper(string(run.Report.ThreatLevel)), shortID(run.ID))
	}

	return s.sendMessage(SlackMessage{
		Channel: s.channel,
		Blocks:  blocks,
		Text:    text,
	})
}

// NotifyRunAborted reports the step that stopped the run
func (s *SlackNotifier) NotifyRunAborted(run domain.RunRecord) error {
	return s.sendMessage(SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildAbortedBlocks(run),
		Text:    fmt.Sprintf("❌ Deobfuscation run %s aborted", shortID(run.ID)),
	})
}

func (s *SlackNotifier) buildCompletedBlocks(run domain.RunRecord) []SlackBlock {
	header := "✅ Deobfuscation Completed (no report)"
	if run.Report != nil {
		header = fmt.Sprintf("%s %s Threat Script Deobfuscated", severityEmoji(run.Report.ThreatLevel), strings.ToUpper(string(run.Report.ThreatLevel)))
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: header},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Run*\n`%s`", run.ID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Provider*\n%s", valueOr(run.Provider, "offline"))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Steps*\n%d", len(run.History))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Indicators*\n%d", len(run.Indicators()))},
			},
		},
	}

	if run.Report != nil && run.Report.AttackVector != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*🤖 Attack Vector*\n%s", run.Report.AttackVector)},
		})
	}

	iocs := run.Indicators()
	if len(iocs) > 0 {
		blocks = append(blocks,
			SlackBlock{Type: "divider"},
			SlackBlock{
				Type: "section",
				Text: &SlackText{Type: "mrkdwn", Text: "*🔍 Indicators of Compromise*\n" + formatIndicators(iocs)},
			},
		)
	}

	if run.Report != nil && len(run.Report.RemediationSteps) > 0 {
		var sb strings.Builder
		sb.WriteString("*✅ Recommended Actions*\n")
		for _, step := range run.Report.RemediationSteps {
			fmt.Fprintf(&sb, "• %s\n", step)
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: sb.String()},
		})
	}

	return s.appendMention(blocks)
}

func (s *SlackNotifier) buildAbortedBlocks(run domain.RunRecord) []SlackBlock {
	reason := "unknown error"
	step := "unknown step"
	if failed, ok := run.FailedStep(); ok {
		reason = failed.Description
		step = failed.Step.Label()
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: "❌ Deobfuscation Aborted"},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Run*\n`%s`", run.ID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Provider*\n%s", valueOr(run.Provider, "offline"))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Failed Step*\n%s", step)},
			},
		},
		{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Reason*\n%s", reason)},
		},
	}

	if len(run.StaticIndicators) > 0 {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: "*🔍 Static Indicators*\n" + formatIndicators(run.StaticIndicators)},
		})
	}

	return s.appendMention(blocks)
}

func (s *SlackNotifier) appendMention(blocks []SlackBlock) []SlackBlock {
	if s.mentionTeam == "" {
		return blocks
	}
	return append(blocks, SlackBlock{
		Type: "section",
		Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("🔔 %s", s.mentionTeam)},
	})
}

func formatIndicators(iocs []domain.Indicator) string {
	var sb strings.Builder
	for i, ioc := range iocs {
		if i >= maxListedIndicators {
			fmt.Fprintf(&sb, "_...and %d more indicators_", len(iocs)-maxListedIndicators)
			break
		}
		fmt.Fprintf(&sb, "• *%s:* `%s`", ioc.Type, ioc.Value)
		if ioc.Context != "" {
			fmt.Fprintf(&sb, " (%s)", ioc.Context)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func severityEmoji(level domain.ThreatLevel) string {
	switch level {
	case domain.ThreatCritical:
		return "🔴"
	case domain.ThreatHigh:
		return "🟠"
	case domain.ThreatMedium:
		return "🟡"
	case domain.ThreatLow:
		return "🟢"
	default:
		return "⚠️"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// Slack reports most failures as 200 with ok=false
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK && result.Error != "" {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
