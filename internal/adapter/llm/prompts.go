package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
)

const systemPrompt = "You are an automated forensic deobfuscator for JavaScript malware. " +
	"Your output must be deterministic and follow the instructions exactly."

var stepInstructions = map[domain.Step]string{
	domain.StepDecompile: `Task: remove virtual-machine style obfuscation.
1. Locate the bytecode array, the instruction pointer, the dispatcher loop and the opcode handlers.
2. Re-emit the program as linear JavaScript without the interpreter.
3. Keep every data flow and state change of the handlers.
Return only valid ES6 JavaScript, no prose, no markdown.`,

	domain.StepReferenceResolve: `Task: resolve indirect references.
1. Replace obj[key] and arr[idx] with literals when key or idx is constant.
2. Inline proxy functions that only forward to another function or to a string pool.
3. Fold constant arithmetic and concatenated string literals.
Return only valid ES6 JavaScript, no prose, no markdown.`,

	domain.StepSemanticCleanup: `Task: reconstruct meaningful identifiers.
1. Rename functions and variables after the APIs they observably use (fetch, XMLHttpRequest, document.cookie...).
2. Remove unreachable anti-analysis code.
3. Use dot notation for property access.
Return only valid ES6 JavaScript, no prose, no markdown.`,

	domain.StepRefine: `Task: annotate for forensic review.
1. Add JSDoc comments describing each function's inputs and outputs.
2. Add a "// [!] IOC" comment next to every IP address, URL and file system operation.
Return only valid ES6 JavaScript.`,

	domain.StepAnalyze: `Task: produce a DFIR report for this script.
1. Name the malware family or kit when variable patterns allow it.
2. Extract every URL, IP address, domain and cryptographic hash as an indicator with context.
3. Describe the execution flow in order.
4. Provide a YARA rule for static detection and a Sigma or IDS rule for network detection.
Respond only with one JSON object that validates against this schema:`,
}

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// AnalysisSchema returns the JSON schema of the analysis report.
func AnalysisSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			ExpandedStruct: true,
			DoNotReference: true,
		}
		schemaJSON, schemaErr = json.MarshalIndent(r.Reflect(&domain.AnalysisSummary{}), "", "  ")
	})
	return schemaJSON, schemaErr
}

// BuildPrompt renders the user prompt for a delegated step. ok is false for steps
// that are never delegated.
func BuildPrompt(step domain.Step, code string) (prompt string, ok bool, err error) {
	instructions, ok := stepInstructions[step]
	if !ok {
		return "", false, nil
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n")

	if step == domain.StepAnalyze {
		schema, err := AnalysisSchema()
		if err != nil {
			return "", true, fmt.Errorf("failed to build analysis schema: %w", err)
		}
		sb.WriteString("```json\n")
		sb.Write(schema)
		sb.WriteString("\n```\n")
	}

	sb.WriteString("\nInput source:\n")
	sb.WriteString(code)
	return sb.String(), true, nil
}

var codeFenceRe = regexp.MustCompile("```(?:javascript|js)?")

// StripCodeFences removes markdown code fences models wrap around code output.
func StripCodeFences(text string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(text, ""))
}
