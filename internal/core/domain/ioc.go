package domain

import "strings"

type IOCType string

const (
	IPAddress IOCType = "IP"
	URL       IOCType = "URL"
	Domain    IOCType = "DOMAIN"
	MD5       IOCType = "MD5"
	SHA1      IOCType = "SHA1"
	SHA256    IOCType = "SHA256"
)

// StaticSignatureContext tags indicators found by the local regex scanner so they
// can be told apart from model-reported ones after a merge.
const StaticSignatureContext = "Static Signature Match"

// KnownGoodNote marks indicators that point at legitimate infrastructure.
const KnownGoodNote = "[known legitimate infrastructure]"

type Indicator struct {
	Type    IOCType `json:"type"`    // IP, URL, DOMAIN, MD5, SHA1, SHA256 (models may report others)
	Value   string  `json:"value"`   // Literal text as it appeared in the source
	Context string  `json:"context"` // Provenance tag
}

// IsHash reports whether the type is one of the hex-digest hash types
func (t IOCType) IsHash() bool {
	return t == MD5 || t == SHA1 || t == SHA256
}

// NormalizeIOCType upper-cases model-reported types so "url" and "URL" compare equal
func NormalizeIOCType(t string) IOCType {
	return IOCType(strings.ToUpper(strings.TrimSpace(t)))
}

// NormalizeIOCValue returns the comparison key used for de-duplication.
// Matching is case-insensitive for every type.
func NormalizeIOCValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
