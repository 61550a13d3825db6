package workspace

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*fiber.App, *Store) {
	t.Helper()
	s := newTestStore(t)
	h := NewHandler(s)

	app := fiber.New()
	app.Get("/files/*", h.GetByPath)
	app.Get("/files", h.GetByQuery)
	app.Post("/files", h.Save)
	app.Delete("/files", h.Delete)
	app.Get("/workspace", h.Tree)
	app.Post("/save-svg", h.SaveSVG)
	return app, s
}

func call(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandlerRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)
	virtual := "/tmp/arduino_workspace/a.ino"

	_, out := call(t, app, http.MethodPost, "/files", `{"path":"`+virtual+`","content":"X"}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "File saved successfully. Size: 1 bytes", out["message"])

	_, out = call(t, app, http.MethodGet, "/files?path="+url.QueryEscape(virtual), "")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "X", out["content"])

	_, out = call(t, app, http.MethodGet, "/files"+virtual, "")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "X", out["content"])

	_, out = call(t, app, http.MethodDelete, "/files?path="+url.QueryEscape(virtual), "")
	assert.Equal(t, true, out["success"])

	_, out = call(t, app, http.MethodGet, "/files?path="+url.QueryEscape(virtual), "")
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "File not found", out["error"])
}

func TestHandlerRejectsOutsidePaths(t *testing.T) {
	app, _ := newTestApp(t)

	status, out := call(t, app, http.MethodGet, "/files?path=%2Fetc%2Fpasswd", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, out["success"])

	status, _ = call(t, app, http.MethodGet, "/files", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandlerTreeAndSaveSVG(t *testing.T) {
	app, s := newTestApp(t)

	_, out := call(t, app, http.MethodPost, "/save-svg", `{"svg":"<svg/>","fileName":"board"}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, s.Root()+"/board.svg", out["path"])

	_, out = call(t, app, http.MethodPost, "/save-svg", `{"fileName":"board"}`)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "No SVG content provided", out["error"])

	_, out = call(t, app, http.MethodGet, "/workspace", "")
	assert.Equal(t, true, out["success"])
	tree := out["tree"].([]any)
	require.Len(t, tree, 1)
	assert.Equal(t, "board.svg", tree[0].(map[string]any)["name"])
}

func TestWildcardPath(t *testing.T) {
	assert.Equal(t, "/tmp/arduino_workspace/a.ino", wildcardPath("tmp/arduino_workspace/a.ino"))
	assert.Equal(t, "/tmp/arduino_workspace/a.ino", wildcardPath("/tmp/arduino_workspace/a.ino"))
	assert.Equal(t, "notes/a.txt", wildcardPath("notes/a.txt"))
}
