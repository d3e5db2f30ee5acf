package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// const _0x1a2b = ['a', 'b', ...];
var poolDeclRe = regexp.MustCompile(`const\s+([_a-zA-Z0-9$]+)\s*=\s*(\[[^\]]+\]);`)

// RotationVariant describes how the detected routine seeds its loop counter.
type RotationVariant string

const (
	// RotationPreIncrement: the counter is pre-incremented (++count) before the
	// while(--count) loop, so the runtime moves exactly offset elements.
	RotationPreIncrement RotationVariant = "pre-increment"
	// RotationDirectDecrement: while(--count) runs on the raw offset, so the runtime
	// moves offset-1 elements.
	RotationDirectDecrement RotationVariant = "direct-decrement"
	// RotationUnrecognized: neither loop shape was found in the routine body.
	RotationUnrecognized RotationVariant = "unrecognized"
)

// StringPool is a string-literal array declaration found in the source.
type StringPool struct {
	Name    string   `json:"name"`
	Strings []string `json:"strings"`

	decl string // declaration text as matched
}

// RotationReport describes what ResolveArrayRotationsReport did.
type RotationReport struct {
	Applied   bool            `json:"applied"`
	Pool      string          `json:"pool,omitempty"`
	RawOffset string          `json:"raw_offset,omitempty"`
	Offset    int64           `json:"offset"`
	Moves     int             `json:"moves"`
	Variant   RotationVariant `json:"variant,omitempty"`
	// Ambiguous is set when the routine's own counter arithmetic may not match the
	// offset move count that was applied.
	Ambiguous bool `json:"ambiguous"`
}

// FindStringPool returns the first `const name = [ ...literals... ];` declaration whose
// elements all parse as string literals.
func FindStringPool(code string) (StringPool, bool) {
	m := poolDeclRe.FindStringSubmatch(code)
	if m == nil {
		return StringPool{}, false
	}

	items, err := parseStringArray(m[2])
	if err != nil {
		return StringPool{}, false
	}

	return StringPool{Name: m[1], Strings: items, decl: m[0]}, true
}

// ResolveArrayRotations reverses the string-pool rotation idiom:
//
//	const pool = [...];
//	(function(arr, count) { ... while(--count) { arr.push(arr.shift()); } })(pool, 0x1a);
//
// The pool declaration is replaced by one holding the already-rotated order and the
// rotation call by an inert marker comment. Any input that does not match the idiom
// is returned unchanged.
func ResolveArrayRotations(code string) string {
	out, _ := ResolveArrayRotationsReport(code)
	return out
}

// ResolveArrayRotationsReport is ResolveArrayRotations plus a description of the match.
func ResolveArrayRotationsReport(code string) (string, RotationReport) {
	pool, ok := FindStringPool(code)
	if !ok {
		return code, RotationReport{}
	}

	rotationRe, err := regexp.Compile(
		`\(function\s*\([^,]+,\s*([^\)]+)\)\s*\{[\s\S]+?push\([^\.]+\.shift\(\)\)[\s\S]+?\}\s*\)\s*\(\s*` +
			regexp.QuoteMeta(pool.Name) +
			`\s*,\s*(0x[a-fA-F0-9]+|\d+)\s*\)`)
	if err != nil {
		return code, RotationReport{}
	}

	rot := rotationRe.FindStringSubmatch(code)
	if rot == nil {
		return code, RotationReport{}
	}

	rawOffset := rot[2]
	offset, err := parseRotationOffset(rawOffset)
	if err != nil {
		return code, RotationReport{}
	}

	rotated, moves := RotatePool(pool.Strings, offset)
	variant := detectRotationVariant(rot[0], strings.TrimSpace(rot[1]))

	newDecl := "const " + pool.Name + " = " + formatStringArray(rotated) + ";"
	out := strings.Replace(code, pool.decl, newDecl, 1)
	out = strings.Replace(out, rot[0], "/* [DFIR] Array rotation of "+rawOffset+" reversed & neutralized */", 1)

	return out, RotationReport{
		Applied:   true,
		Pool:      pool.Name,
		RawOffset: rawOffset,
		Offset:    offset,
		Moves:     moves,
		Variant:   variant,
		Ambiguous: variant != RotationPreIncrement,
	}
}

// RotatePool replays the obfuscator loop
//
//	count = offset + 1; while (--count) { arr.push(arr.shift()); }
//
// which performs exactly offset move-front-to-back operations. The input is not
// modified. The returned move count is reduced modulo the pool length.
func RotatePool(items []string, offset int64) ([]string, int) {
	rotated := make([]string, len(items))
	copy(rotated, items)
	if len(rotated) == 0 || offset <= 0 {
		return rotated, 0
	}

	moves := int(offset % int64(len(rotated)))
	count := moves + 1
	for count--; count > 0; count-- {
		rotated = append(rotated[1:], rotated[0])
	}
	return rotated, moves
}

// parseRotationOffset accepts 0x-prefixed hex or plain decimal.
func parseRotationOffset(raw string) (int64, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return strconv.ParseInt(raw[2:], 16, 64)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func detectRotationVariant(routine, counter string) RotationVariant {
	if counter == "" {
		return RotationUnrecognized
	}
	name := regexp.QuoteMeta(counter)

	preIncrement := regexp.MustCompile(`\+\+\s*` + name + `\b`)
	if preIncrement.MatchString(routine) {
		return RotationPreIncrement
	}

	directDecrement := regexp.MustCompile(`while\s*\(\s*--\s*` + name + `\s*\)`)
	if directDecrement.MatchString(routine) {
		return RotationDirectDecrement
	}

	return RotationUnrecognized
}
