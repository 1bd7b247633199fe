// Package install copies an approved skill's source directory into a
// target skills root. The governance service owns the decision of
// whether an install is legal; this package only moves files.
package install

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/skillmeta"
)

// DefaultIgnores are the glob patterns skipped during installation.
var DefaultIgnores = []string{
	".git/**",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.DS_Store",
	"node_modules/**",
}

// Options controls one install.
type Options struct {
	// Ignores replaces DefaultIgnores when non-nil.
	Ignores []string
	// Overwrite allows installing over an existing target directory.
	Overwrite bool
}

// CopySkill copies the skill directory at src into dst and returns the
// number of files copied. src must contain a SKILL.md; dst must not
// exist unless Overwrite is set.
func CopySkill(src, dst string, opts Options) (int, error) {
	if _, err := os.Stat(filepath.Join(src, skillmeta.FileName)); err != nil {
		return 0, errors.Wrapf(err, "%s is not a skill directory", src)
	}

	if _, err := os.Stat(dst); err == nil {
		if !opts.Overwrite {
			return 0, errors.Errorf("target %s already exists", dst)
		}
		if err := os.RemoveAll(dst); err != nil {
			return 0, errors.Wrap(err, "failed to remove existing target")
		}
	}

	ignores := opts.Ignores
	if ignores == nil {
		ignores = DefaultIgnores
	}

	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// prune whole subtrees: ".git/**" ignores everything
			// under .git, so probe with a sentinel child
			skip, err := matchesAny(ignores, rel+"/x")
			if err != nil {
				return err
			}
			if skip {
				return fs.SkipDir
			}
			return nil
		}

		skip, err := matchesAny(ignores, rel)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to copy skill directory")
	}

	return copied, nil
}

func matchesAny(patterns []string, rel string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, errors.Wrapf(err, "invalid ignore pattern %q", pattern)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
