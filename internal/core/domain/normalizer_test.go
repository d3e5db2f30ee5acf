package domain

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{
			name: "Function body",
			code: "function f(a,b){return a+b;}",
			want: "function f(a, b) {\n  return a+b;\n}",
		},
		{
			name: "Nested blocks",
			code: "if(x){while(y){z();}}",
			want: "if(x) {\n  while(y) {\n    z();\n  }\n}",
		},
		{
			name: "Blank lines collapsed",
			code: "a();\n\n\n\nb();",
			want: "a();\nb();",
		},
		{
			name: "Else on its own line",
			code: "if(a){b();}else{c();}",
			want: "if(a) {\n  b();\n}\nelse {\n  c();\n}",
		},
		{
			name: "Empty input",
			code: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.code)
			if got != tt.want {
				t.Errorf("Normalize(%q)\n got: %q\nwant: %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"function f(a,b){return a+b;}",
		"var o = {a:1,b:{c:2}};",
		"(function(){var x=[1,2,3];x.forEach(function(i){console.log(i);});})();",
		"if(a){b();}else{c();}",
		"}{",
		"a,}",
		"const _0x1 = ['a','b'];\n\n   fetch('http://x.io/a',{method:'POST'});",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestNormalize_DepthNeverNegative(t *testing.T) {
	got := Normalize("}}}a();{b();")
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, " ") && strings.HasPrefix(strings.TrimSpace(line), "}") {
			t.Errorf("unbalanced closing brace should not be indented: %q", line)
		}
	}
	if !strings.Contains(got, "\n  b();") {
		t.Errorf("expected body after brace to be indented one level, got %q", got)
	}
}
