// Package workspace provides session-scoped filesystem sandboxes for the
// file tools.
//
// Every session gets its own directory under a common root. All paths coming
// from tool arguments are resolved against that directory and canonicalised;
// any path that escapes the session directory, whether through "..", an
// absolute path, or a symlink planted inside the workspace, is rejected with
// [ErrPathEscape].
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathEscape is returned when a requested path resolves outside the
// session's workspace directory.
var ErrPathEscape = errors.New("workspace: path escapes workspace")

// MaxFileSize caps file reads and writes through the workspace (10 MiB).
const MaxFileSize = 10 << 20

// sessionIDPattern restricts session identifiers to names that are safe as a
// single directory component.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Manager hands out per-session workspace directories under a fixed root.
// Safe for concurrent use; all state lives on the filesystem.
type Manager struct {
	root string
}

// NewManager creates the workspace root if needed and returns a Manager.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root %q: %w", abs, err)
	}
	// Canonicalise so symlink checks compare against the real root path.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: canonicalise root %q: %w", abs, err)
	}
	return &Manager{root: resolved}, nil
}

// Root returns the canonical workspace root directory.
func (m *Manager) Root() string { return m.root }

// Dir returns the directory for sessionID, creating it on first use. The
// empty session ID maps to a shared "default" workspace.
func (m *Manager) Dir(sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("workspace: invalid session id %q", sessionID)
	}
	dir := filepath.Join(m.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create session dir: %w", err)
	}
	return dir, nil
}

// Resolve maps a tool-supplied path to an absolute path inside the session's
// workspace. Absolute paths are reinterpreted as workspace-relative. The
// existing portion of the path is canonicalised through EvalSymlinks so a
// symlink inside the workspace cannot point outside it.
func (m *Manager) Resolve(sessionID, name string) (string, error) {
	dir, err := m.Dir(sessionID)
	if err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "."
	}
	// Treat absolute paths as workspace-relative rather than rejecting them;
	// models routinely produce "/notes.txt" for workspace files.
	name = strings.TrimPrefix(name, string(filepath.Separator))

	joined := filepath.Join(dir, filepath.Clean(name))
	if !within(joined, dir) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}

	// Canonicalise the deepest existing ancestor so planted symlinks are
	// caught even for paths that do not exist yet.
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", fmt.Errorf("workspace: canonicalise %q: %w", name, err)
	}
	if !within(resolved, dir) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return joined, nil
}

// resolveExisting walks up from path to the deepest existing ancestor,
// canonicalises it, and re-joins the non-existing suffix.
func resolveExisting(path string) (string, error) {
	var suffix []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		current = parent
	}
}

// within reports whether path is dir or a descendant of dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ReadFile reads a workspace file, enforcing the size cap.
func (m *Manager) ReadFile(sessionID, name string) ([]byte, error) {
	path, err := m.Resolve(sessionID, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: stat %q: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workspace: %q is a directory", name)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("workspace: %q exceeds %d byte limit", name, MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %q: %w", name, err)
	}
	return data, nil
}

// WriteFile writes a workspace file, creating parent directories as needed.
func (m *Manager) WriteFile(sessionID, name string, data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("workspace: content exceeds %d byte limit", MaxFileSize)
	}
	path, err := m.Resolve(sessionID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: create parent dirs for %q: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write %q: %w", name, err)
	}
	return nil
}

// Entry describes one file or directory in a listing.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// List returns the entries of a workspace directory, sorted by name.
func (m *Manager) List(sessionID, name string) ([]Entry, error) {
	path, err := m.Resolve(sessionID, name)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: list %q: %w", name, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := Entry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Remove deletes a session's entire workspace directory.
func (m *Manager) Remove(sessionID string) error {
	dir, err := m.Dir(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
