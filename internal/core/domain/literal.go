package domain

import (
	"regexp"
	"strconv"
)

var hexEscapeRe = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)

// DecodeHexEscapes replaces every \xHH escape with the character it encodes.
// Malformed sequences are not matched and pass through untouched.
func DecodeHexEscapes(code string) string {
	return hexEscapeRe.ReplaceAllStringFunc(code, func(match string) string {
		v, err := strconv.ParseUint(match[2:], 16, 8)
		if err != nil {
			return match
		}
		return string(rune(v))
	})
}
