package domain

import (
	"regexp"
	"strings"
)

type iocPattern struct {
	iocType IOCType
	regex   *regexp.Regexp
}

// Scanned in this order; output order follows it.
var staticPatterns = []iocPattern{
	{IPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{URL, regexp.MustCompile(`(?i)https?://(?:www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b(?:[-a-zA-Z0-9()@:%_\+.~#?&/=]*)`)},
	{Domain, regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?:com|net|org|edu|gov|mil|biz|info|mobi|name|aero|asia|jobs|museum|io|xyz|[a-z]{2})\b`)},
	{MD5, regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)},
	{SHA1, regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)},
	{SHA256, regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)},
}

// Property-access chains such as "arr.push" look like hostnames to the domain pattern.
var domainFalsePositiveSuffixes = []string{".length", ".push", ".shift", ".slice", ".join", ".sort"}

// ScanStaticIOCs extracts network and file indicators from source text with a fixed set of
// regular expressions. Matches are de-duplicated per pattern (case-insensitive, first
// occurrence wins) and tagged with StaticSignatureContext. Hash types are classified by
// length only.
func ScanStaticIOCs(code string) []Indicator {
	iocs := []Indicator{}

	for _, p := range staticPatterns {
		seen := make(map[string]bool)
		for _, match := range p.regex.FindAllString(code, -1) {
			key := NormalizeIOCValue(match)
			if seen[key] {
				continue
			}
			seen[key] = true

			if p.iocType == Domain && isPropertyAccessChain(match) {
				continue
			}

			iocs = append(iocs, Indicator{
				Type:    p.iocType,
				Value:   match,
				Context: StaticSignatureContext,
			})
		}
	}

	return iocs
}

func isPropertyAccessChain(match string) bool {
	lower := strings.ToLower(match)
	for _, suffix := range domainFalsePositiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
