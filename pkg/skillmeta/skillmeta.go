// Package skillmeta parses SKILL.md files: YAML frontmatter into
// skill metadata, plus the markdown body.
package skillmeta

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// FileName is the canonical skill definition file inside a skill
// directory.
const FileName = "SKILL.md"

// Parsed is the result of parsing one SKILL.md.
type Parsed struct {
	Metadata governance.SkillMetadata
	Body     string
	Source   []byte
}

// Load parses the SKILL.md inside dir.
func Load(dir string) (Parsed, error) {
	path := filepath.Join(dir, FileName)
	content, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, errors.Wrapf(err, "failed to read %s", path)
	}

	parsed, err := Parse(content)
	if err != nil {
		return Parsed{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	parsed.Metadata.SourcePath = dir
	return parsed, nil
}

// Parse parses SKILL.md content. Name and description are required
// frontmatter keys; everything else is optional.
func Parse(content []byte) (Parsed, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return Parsed{}, errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return Parsed{}, errors.New("missing frontmatter")
	}

	name, _ := metaData["name"].(string)
	if name == "" {
		return Parsed{}, errors.New("skill name is required in frontmatter")
	}
	description, _ := metaData["description"].(string)
	if description == "" {
		return Parsed{}, errors.New("skill description is required in frontmatter")
	}

	metadata := governance.SkillMetadata{
		Name:        name,
		Description: description,
		Version:     stringKey(metaData, "version"),
		Category:    stringKey(metaData, "category"),
		AuthorName:  stringKey(metaData, "author"),
		LicenseSPDX: stringKey(metaData, "license"),
	}
	if metadata.Version == "" {
		metadata.Version = "1.0.0"
	}

	return Parsed{
		Metadata: metadata,
		Body:     extractBody(string(content)),
		Source:   content,
	}, nil
}

func stringKey(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// extractBody strips the YAML frontmatter block and returns the
// markdown body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}
