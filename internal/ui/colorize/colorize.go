// Package colorize highlights JavaScript artifacts and JSON reports for terminal output.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// NoColorEnv disables highlighting when set to any value
const NoColorEnv = "DFIR_NO_COLOR"

// Enabled reports whether highlighting is on
func Enabled() bool {
	return os.Getenv(NoColorEnv) == "" && os.Getenv("NO_COLOR") == ""
}

func getLexer(names ...string) chroma.Lexer {
	for _, name := range names {
		if lexer := lexers.Get(name); lexer != nil {
			return chroma.Coalesce(lexer)
		}
	}
	return nil
}

func getStyle() *chroma.Style {
	for _, name := range []string{"dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter prefers true color, then 256 colors
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func highlight(code string, lexer chroma.Lexer) (string, error) {
	if !Enabled() || lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// JavaScript highlights a JS artifact. On error the plain code is returned with it.
func JavaScript(code string) (string, error) {
	return highlight(code, getLexer("javascript", "js"))
}

// JSON highlights an encoded report or indicator list
func JSON(data string) (string, error) {
	return highlight(data, getLexer("json"))
}
