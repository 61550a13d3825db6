package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// VirtualRoot is the path prefix clients use for workspace files.
const VirtualRoot = "/tmp/arduino_workspace"

var (
	ErrNotFound         = errors.New("file not found")
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
)

type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
)

// Entry is one node of the workspace tree. Files carry Size and FileType, directories Children.
type Entry struct {
	Name     string
	Path     string
	Type     EntryType
	Size     int64
	FileType string
	Children []Entry
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Type == TypeDirectory {
		children := e.Children
		if children == nil {
			children = []Entry{}
		}
		return json.Marshal(struct {
			Name     string    `json:"name"`
			Path     string    `json:"path"`
			Type     EntryType `json:"type"`
			Children []Entry   `json:"children"`
		}{e.Name, e.Path, e.Type, children})
	}
	return json.Marshal(struct {
		Name     string    `json:"name"`
		Path     string    `json:"path"`
		Type     EntryType `json:"type"`
		Size     int64     `json:"size"`
		FileType string    `json:"file_type,omitempty"`
	}{e.Name, e.Path, e.Type, e.Size, e.FileType})
}

type Store struct {
	root string
	log  logr.Logger
}

func NewStore(root string, log logr.Logger) *Store {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Store{root: filepath.Clean(root), log: log.WithName("workspace")}
}

func (s *Store) Root() string {
	return s.root
}

// Resolve maps a client path to a real path inside the workspace directory. Accepted forms are
// the virtual prefix, a real path already under the workspace, and a workspace-relative path.
func (s *Store) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideWorkspace)
	}

	slashed := filepath.ToSlash(path)
	var resolved string
	switch {
	case slashed == VirtualRoot || strings.HasPrefix(slashed, VirtualRoot+"/"):
		resolved = filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(slashed, VirtualRoot)))
	case filepath.IsAbs(path):
		resolved = filepath.Clean(path)
	default:
		resolved = filepath.Join(s.root, path)
	}

	if !s.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return resolved, nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Virtual converts a real workspace path back to its client-facing form.
func (s *Store) Virtual(real string) string {
	rel, err := filepath.Rel(s.root, real)
	if err != nil || rel == "." {
		return VirtualRoot
	}
	return VirtualRoot + "/" + filepath.ToSlash(rel)
}

func (s *Store) Read(path string) (string, error) {
	real, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if !isRegular(real) {
		s.log.Info("file not found", "path", real)
		return "", ErrNotFound
	}

	content, err := os.ReadFile(real)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	s.log.V(1).Info("file loaded", "path", real, "size", len(content))
	return string(content), nil
}

// Write stores content and returns the size on disk. Sketch (.ino) and circuit (.fzz) files are
// read back and rewritten byte-for-byte if the stored content differs.
func (s *Store) Write(path, content string) (int64, error) {
	real, err := s.Resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return 0, fmt.Errorf("create parent directory: %w", err)
	}

	if err := writeText(real, content); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return 0, fmt.Errorf("file not found after write operation: %w", err)
	}

	if kind := fileType(real); kind != "" {
		saved, err := os.ReadFile(real)
		if err != nil || string(saved) != content {
			s.log.Error(err, "content mismatch after write, retrying in binary mode",
				"path", real, "fileType", kind, "expected", len(content), "actual", len(saved))
			if err := os.WriteFile(real, []byte(content), 0o644); err != nil {
				return 0, fmt.Errorf("rewrite %s: %w", path, err)
			}
			if info, err = os.Stat(real); err != nil {
				return 0, fmt.Errorf("file not found after write operation: %w", err)
			}
		}
	}

	s.log.Info("file saved", "path", real, "size", info.Size())
	return info.Size(), nil
}

func writeText(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) Delete(path string) error {
	real, err := s.Resolve(path)
	if err != nil {
		return err
	}
	if !isRegular(real) {
		s.log.Info("file not found for deletion", "path", real)
		return ErrNotFound
	}
	if err := os.Remove(real); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.log.Info("file deleted", "path", real, "fileType", fileType(real))
	return nil
}

// Tree lists path (the workspace root when empty) recursively. The workspace root is created
// when missing; unreadable subdirectories are logged and left empty.
func (s *Store) Tree(path string) ([]Entry, error) {
	dir := s.root
	if path != "" {
		real, err := s.Resolve(path)
		if err != nil {
			return nil, err
		}
		dir = real
	}

	if dir == s.root {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}
	return s.buildTree(dir), nil
}

func (s *Store) buildTree(dir string) []Entry {
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.log.Error(err, "permission error accessing directory", "path", dir)
		} else {
			s.log.Error(err, "error building tree", "path", dir)
		}
		return []Entry{}
	}

	tree := make([]Entry, 0, len(items))
	for _, item := range items {
		full := filepath.Join(dir, item.Name())
		switch {
		case item.IsDir():
			tree = append(tree, Entry{
				Name:     item.Name(),
				Path:     s.Virtual(full),
				Type:     TypeDirectory,
				Children: s.buildTree(full),
			})
		case item.Type().IsRegular():
			info, err := item.Info()
			if err != nil {
				s.log.Error(err, "could not stat file", "path", full)
				continue
			}
			tree = append(tree, Entry{
				Name:     item.Name(),
				Path:     s.Virtual(full),
				Type:     TypeFile,
				Size:     info.Size(),
				FileType: fileType(full),
			})
		}
	}
	return tree
}

// SaveSVG writes a drawing into the workspace root, adding the .svg extension when missing.
func (s *Store) SaveSVG(fileName, svg string) (string, error) {
	if fileName == "" {
		fileName = "circuit.svg"
	}
	if !strings.HasSuffix(strings.ToLower(fileName), ".svg") {
		fileName += ".svg"
	}
	if filepath.IsAbs(fileName) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, fileName)
	}
	if _, err := s.Write(fileName, svg); err != nil {
		return "", err
	}
	real, _ := s.Resolve(fileName)
	return real, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ino":
		return "arduino"
	case ".fzz":
		return "circuit"
	}
	return ""
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
