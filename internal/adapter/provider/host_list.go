package provider

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// HostListProvider fetches a plain-text list of hosts, one entry per line. Entries
// may be bare hosts, host:port, full URLs or hosts-file lines ("0.0.0.0 host").
// Comments start with # or //.
type HostListProvider struct {
	client       *http.Client
	url          string
	providerName string
	logger       *log.Logger
}

func NewHostListProvider(client *http.Client, providerName, feedURL string, logger *log.Logger) *HostListProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HostListProvider{
		client:       client,
		providerName: providerName,
		url:          feedURL,
		logger:       logger,
	}
}

func (p *HostListProvider) Name() string {
	return p.providerName
}

// FetchHosts returns the de-duplicated, lower-cased hosts of the list
func (p *HostListProvider) FetchHosts(ctx context.Context) ([]string, error) {
	p.logger.Info("📥 Fetching host list", "provider", p.providerName, "url", p.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch host list from %s: %s", p.url, resp.Status)
	}

	seen := make(map[string]bool)
	var hosts []string
	lineCount := 0

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lineCount++
		host, ok := parseHostLine(scanner.Text())
		if !ok || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	p.logger.Info("✅ Host list parsed", "provider", p.providerName, "lines", lineCount, "hosts", len(hosts))
	return hosts, nil
}

func parseHostLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return "", false
	}

	// Remove inline comments
	if idx := strings.Index(line, "#"); idx != -1 {
		line = strings.TrimSpace(line[:idx])
	}

	// hosts-file format: address followed by the host
	if fields := strings.Fields(line); len(fields) > 1 {
		line = fields[len(fields)-1]
	}

	if !strings.Contains(line, "://") {
		line = "http://" + line
	}
	parsed, err := url.Parse(line)
	if err != nil {
		return "", false
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}
