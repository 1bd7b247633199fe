// Package severity implements context-aware severity adjustment for
// security findings. A pattern flagged inside a fenced documentation or
// example block is demonstrably not live code, so its severity is
// downgraded; severity is never adjusted upward, and every adjustment
// carries a human-readable reason.
package severity

import (
	"fmt"

	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

// Context describes where in the surrounding text a finding occurred.
type Context struct {
	Type              governance.ContextType
	CodeBlockLanguage string
}

// Effective is the result of adjusting one finding's severity. Reason is
// non-empty exactly when Changed is true.
type Effective struct {
	Severity governance.Severity
	Changed  bool
	Reason   string
}

// downgrades maps each severity to its value inside a non-executing
// context. Entries only ever move down the scale.
var downgrades = map[governance.Severity]governance.Severity{
	governance.SeverityCritical: governance.SeverityLow,
	governance.SeverityHigh:     governance.SeverityInfo,
	governance.SeverityMedium:   governance.SeverityInfo,
	governance.SeverityLow:      governance.SeverityInfo,
	governance.SeverityInfo:     governance.SeverityInfo,
}

// Adjust recomputes the effective severity of a finding from its original
// severity and the classification of the surrounding text. Pure function;
// callers own persistence.
func Adjust(original governance.Severity, ctx Context) Effective {
	if ctx.Type.Executable() {
		return Effective{Severity: original}
	}

	adjusted, ok := downgrades[original]
	if !ok || adjusted == original {
		return Effective{Severity: original}
	}

	lang := ctx.CodeBlockLanguage
	if lang == "" {
		lang = "unknown"
	}

	return Effective{
		Severity: adjusted,
		Changed:  true,
		Reason: fmt.Sprintf(
			"pattern found inside a %s code example; severity reduced from %s to %s because the content is documentation, not live code",
			lang, original, adjusted),
	}
}

// Apply stamps the adjustment result onto a finding: Severity becomes the
// effective value, and AdjustedSeverity/AdjustmentReason are set only when
// the value actually changed.
func Apply(f governance.SecurityFinding, ctx Context) governance.SecurityFinding {
	f.OriginalSeverity = f.Severity
	f.ContextType = ctx.Type
	f.InCodeBlock = ctx.Type == governance.ContextCodeBlock
	f.CodeBlockLanguage = ctx.CodeBlockLanguage

	eff := Adjust(f.Severity, ctx)
	f.Severity = eff.Severity
	f.SeverityChanged = eff.Changed
	if eff.Changed {
		adjusted := eff.Severity
		f.AdjustedSeverity = &adjusted
		f.AdjustmentReason = eff.Reason
	} else {
		f.AdjustedSeverity = nil
		f.AdjustmentReason = ""
	}

	return f
}
