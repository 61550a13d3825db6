package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "arduino_workspace"), logr.Discard())
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		in      string
		want    string
		outside bool
	}{
		{in: "/tmp/arduino_workspace/a.ino", want: filepath.Join(s.Root(), "a.ino")},
		{in: "/tmp/arduino_workspace/sketches/blink/blink.ino", want: filepath.Join(s.Root(), "sketches", "blink", "blink.ino")},
		{in: "/tmp/arduino_workspace", want: s.Root()},
		{in: "notes/todo.txt", want: filepath.Join(s.Root(), "notes", "todo.txt")},
		{in: filepath.Join(s.Root(), "b.fzz"), want: filepath.Join(s.Root(), "b.fzz")},
		{in: "/tmp/arduino_workspace/../escape.txt", outside: true},
		{in: "../escape.txt", outside: true},
		{in: "/etc/passwd", outside: true},
		{in: "", outside: true},
	}
	for _, tt := range tests {
		got, err := s.Resolve(tt.in)
		if tt.outside {
			assert.ErrorIs(t, err, ErrOutsideWorkspace, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	size, err := s.Write("/tmp/arduino_workspace/a.ino", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	content, err := s.Read("/tmp/arduino_workspace/a.ino")
	require.NoError(t, err)
	assert.Equal(t, "X", content)
}

func TestWritePreservesLineEndingsAndCreatesParents(t *testing.T) {
	s := newTestStore(t)
	content := "void setup() {\r\n}\nvoid loop() {}\r\n"

	size, err := s.Write("/tmp/arduino_workspace/projects/blink/blink.ino", content)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	raw, err := os.ReadFile(filepath.Join(s.Root(), "projects", "blink", "blink.ino"))
	require.NoError(t, err)
	assert.Equal(t, content, string(raw))
}

func TestReadMissingAndDirectory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("/tmp/arduino_workspace/missing.ino")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "dir"), 0o755))
	_, err = s.Read("/tmp/arduino_workspace/dir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("/tmp/arduino_workspace/c.fzz", "<module/>")
	require.NoError(t, err)

	require.NoError(t, s.Delete("/tmp/arduino_workspace/c.fzz"))
	_, err = s.Read("/tmp/arduino_workspace/c.fzz")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("/tmp/arduino_workspace/c.fzz"), ErrNotFound)
}

func TestTree(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("/tmp/arduino_workspace/blink/blink.ino", "abc")
	require.NoError(t, err)
	_, err = s.Write("/tmp/arduino_workspace/board.fzz", "<x/>")
	require.NoError(t, err)
	_, err = s.Write("/tmp/arduino_workspace/readme.txt", "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "empty"), 0o755))

	tree, err := s.Tree("")
	require.NoError(t, err)
	require.Len(t, tree, 4)

	// os.ReadDir orders entries by name
	assert.Equal(t, Entry{
		Name: "blink", Path: "/tmp/arduino_workspace/blink", Type: TypeDirectory,
		Children: []Entry{{Name: "blink.ino", Path: "/tmp/arduino_workspace/blink/blink.ino", Type: TypeFile, Size: 3, FileType: "arduino"}},
	}, tree[0])
	assert.Equal(t, Entry{Name: "board.fzz", Path: "/tmp/arduino_workspace/board.fzz", Type: TypeFile, Size: 4, FileType: "circuit"}, tree[1])
	assert.Equal(t, TypeDirectory, tree[2].Type)
	assert.Empty(t, tree[2].Children)
	assert.Equal(t, "", tree[3].FileType)

	sub, err := s.Tree("/tmp/arduino_workspace/blink")
	require.NoError(t, err)
	require.Len(t, sub, 1)

	_, err = s.Tree("/tmp/arduino_workspace/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTreeCreatesRoot(t *testing.T) {
	s := newTestStore(t)
	tree, err := s.Tree("")
	require.NoError(t, err)
	assert.Empty(t, tree)
	assert.DirExists(t, s.Root())
}

func TestEntryJSON(t *testing.T) {
	dir, err := Entry{Name: "d", Path: "/tmp/arduino_workspace/d", Type: TypeDirectory}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"d","path":"/tmp/arduino_workspace/d","type":"directory","children":[]}`, string(dir))

	file, err := Entry{Name: "e.txt", Path: "/tmp/arduino_workspace/e.txt", Type: TypeFile}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"e.txt","path":"/tmp/arduino_workspace/e.txt","type":"file","size":0}`, string(file))
}

func TestSaveSVG(t *testing.T) {
	s := newTestStore(t)

	path, err := s.SaveSVG("drawing", "<svg/>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "drawing.svg"), path)

	path, err = s.SaveSVG("", "<svg/>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "circuit.svg"), path)

	_, err = s.SaveSVG("../../outside.svg", "<svg/>")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}
