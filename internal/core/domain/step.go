package domain

import "time"

// Step identifies one stage of the deobfuscation pipeline.
type Step string

const (
	StepStabilize        Step = "STABILIZE"
	StepLiteralDecode    Step = "LITERAL_DECODE"
	StepRotationResolve  Step = "ROTATION_RESOLVE"
	StepDecompile        Step = "DECOMPILE"
	StepReferenceResolve Step = "REFERENCE_RESOLVE"
	StepSemanticCleanup  Step = "SEMANTIC_CLEANUP"
	StepRefine           Step = "REFINE"
	StepAnalyze          Step = "ANALYZE"
)

var stepLabels = map[Step]string{
	StepStabilize:        "Normalize Structure",
	StepLiteralDecode:    "Static Literal Decoding",
	StepRotationResolve:  "String Pool Rotation Reversal",
	StepDecompile:        "VM / Bytecode Decompilation",
	StepReferenceResolve: "Reference Pool Inlining",
	StepSemanticCleanup:  "Semantic Reconstruction",
	StepRefine:           "Iterative Refinement",
	StepAnalyze:          "Forensic Intelligence",
}

// Label is the human readable name of the step
func (s Step) Label() string {
	if label, ok := stepLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsDeterministic reports whether the step is computed locally (and therefore cannot fail)
func (s Step) IsDeterministic() bool {
	switch s {
	case StepStabilize, StepLiteralDecode, StepRotationResolve:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is one of the defined steps
func (s Step) IsKnown() bool {
	_, ok := stepLabels[s]
	return ok
}

// DefaultSteps is the fixed step order of a full run. ANALYZE is terminal.
func DefaultSteps() []Step {
	return []Step{
		StepStabilize,
		StepLiteralDecode,
		StepRotationResolve,
		StepDecompile,
		StepReferenceResolve,
		StepSemanticCleanup,
		StepAnalyze,
	}
}

// OfflineSteps runs only the local deterministic transforms.
func OfflineSteps() []Step {
	return []Step{StepStabilize, StepLiteralDecode, StepRotationResolve}
}

type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusWarning StepStatus = "warning"
	StatusError   StepStatus = "error"
)

// StepResult is one entry of a run's append-only history
type StepResult struct {
	Step        Step       `json:"step"`
	Content     string     `json:"content"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
}
