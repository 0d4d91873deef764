// Package workspace provisions the per-submission scratch directory.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	appErr "classjudge/pkg/errors"

	"github.com/google/uuid"
)

const maxPrefixLen = 32

// Provisioner creates isolated workspaces.
type Provisioner interface {
	Provision(ctx context.Context, submissionID string) (*Workspace, error)
}

// DirProvisioner creates workspaces as directories under a shared root.
type DirProvisioner struct {
	root string
}

// NewProvisioner creates a provisioner rooted at root.
// The root itself is created lazily on the first Provision call.
func NewProvisioner(root string) *DirProvisioner {
	return &DirProvisioner{root: root}
}

// Root returns the scratch root.
func (p *DirProvisioner) Root() string {
	return p.root
}

// Provision creates a uniquely named directory for one evaluation.
func (p *DirProvisioner) Provision(ctx context.Context, submissionID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.root == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	root, err := filepath.Abs(p.root)
	if err != nil {
		return nil, appErr.Workspace(err, "resolve root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Workspace(err, "create root")
	}

	id := uuid.NewString()
	name := id
	if prefix := sanitize(submissionID); prefix != "" {
		name = prefix + "-" + id
	}
	dir := filepath.Join(root, name)
	// Mkdir rather than MkdirAll: an existing directory must never be reused.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, appErr.Workspace(err, "create")
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Workspace is a scratch directory owned by exactly one evaluation.
type Workspace struct {
	ID  string
	Dir string
}

// Path joins name inside the workspace, rejecting names that escape it.
func (w *Workspace) Path(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file name is required")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("file name %q must be relative", name)
	}
	p := filepath.Join(w.Dir, name)
	rel, err := filepath.Rel(w.Dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file name %q escapes workspace", name)
	}
	return p, nil
}

// WriteFile writes data to name inside the workspace and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p, err := w.Path(name)
	if err != nil {
		return "", appErr.Workspace(err, "write")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", appErr.Workspace(err, "write")
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", appErr.Workspace(err, "write")
	}
	return p, nil
}

// Remove deletes name, and everything below it when it is a directory.
// Missing files are not an error.
func (w *Workspace) Remove(name string) error {
	p, err := w.Path(name)
	if err != nil {
		return err
	}
	return removeTree(p)
}

// TempName returns a file name that no other test case of this workspace uses.
func (w *Workspace) TempName(prefix string) string {
	return fmt.Sprintf("%s_%s.tmp", prefix, uuid.NewString()[:8])
}

// Scrub replaces the workspace location in text so host paths do not leak.
func (w *Workspace) Scrub(text string) string {
	if w == nil || w.Dir == "" {
		return text
	}
	text = strings.ReplaceAll(text, w.Dir+string(filepath.Separator), "")
	return strings.ReplaceAll(text, w.Dir, ".")
}

// Release removes the workspace and everything in it.
func (w *Workspace) Release() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return removeTree(w.Dir)
}

// removeTree is os.RemoveAll that also copes with directories the program
// made unwritable: on failure every directory is reopened to its owner and
// the removal retried.
func removeTree(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if d != nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(path)
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= maxPrefixLen {
			break
		}
	}
	return b.String()
}
