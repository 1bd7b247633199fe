package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func makeSkillDir(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "SKILL.md"), "---\nname: x\ndescription: y\n---\nbody\n")
	writeFile(t, filepath.Join(src, "scripts", "run.py"), "print('hi')\n")
	writeFile(t, filepath.Join(src, "scripts", "__pycache__", "run.cpython-312.pyc"), "binary")
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref: refs/heads/main")
	return src
}

func TestCopySkill(t *testing.T) {
	src := makeSkillDir(t)
	dst := filepath.Join(t.TempDir(), "installed")

	copied, err := CopySkill(src, dst, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, copied, "SKILL.md and run.py")

	assert.FileExists(t, filepath.Join(dst, "SKILL.md"))
	assert.FileExists(t, filepath.Join(dst, "scripts", "run.py"))
	assert.NoFileExists(t, filepath.Join(dst, "scripts", "__pycache__", "run.cpython-312.pyc"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
}

func TestCopySkill_NotASkill(t *testing.T) {
	src := t.TempDir()
	_, err := CopySkill(src, filepath.Join(t.TempDir(), "out"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a skill directory")
}

func TestCopySkill_TargetExists(t *testing.T) {
	src := makeSkillDir(t)
	dst := t.TempDir()

	_, err := CopySkill(src, dst, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// with Overwrite the stale content is replaced
	writeFile(t, filepath.Join(dst, "stale.txt"), "old")
	copied, err := CopySkill(src, dst, Options{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, copied)
	assert.NoFileExists(t, filepath.Join(dst, "stale.txt"))
}

func TestCopySkill_CustomIgnores(t *testing.T) {
	src := makeSkillDir(t)
	writeFile(t, filepath.Join(src, "notes.txt"), "scratch")
	dst := filepath.Join(t.TempDir(), "out")

	_, err := CopySkill(src, dst, Options{Ignores: []string{"**/*.txt", ".git/**", "**/__pycache__/**"}})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dst, "notes.txt"))
	assert.FileExists(t, filepath.Join(dst, "scripts", "run.py"))
}
