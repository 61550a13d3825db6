//go:build !windows

package toolchain

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circuitdesk/server/internal/build"
)

type recorderStub struct {
	builds []*build.Build
	err    error
}

func (r *recorderStub) Create(b *build.Build) error {
	r.builds = append(r.builds, b)
	return r.err
}

func newTestApp(t *testing.T, recorder Recorder) *fiber.App {
	t.Helper()
	cli, _ := newFakeCLI(t)
	h := NewHandler(cli, recorder, logr.Discard())

	app := fiber.New()
	app.Get("/", h.Root)
	app.Get("/boards", h.Boards)
	app.Get("/boards/available", h.AvailableBoards)
	app.Get("/ports", h.Ports)
	app.Get("/cores", h.Cores)
	app.Get("/cores/search", h.SearchCores)
	app.Post("/cores/install", h.InstallCore)
	app.Get("/libraries", h.Libraries)
	app.Post("/libraries/search", h.SearchLibraries)
	app.Post("/libraries/install", h.InstallLibrary)
	app.Post("/compile", h.Compile)
	app.Post("/upload", h.Upload)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
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

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestRoot(t *testing.T) {
	app := newTestApp(t, nil)
	status, out := do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Arduino Code Editor API", out["message"])
}

func TestListings(t *testing.T) {
	app := newTestApp(t, nil)

	_, out := do(t, app, http.MethodGet, "/boards", "")
	assert.Equal(t, true, out["success"])
	boards := out["boards"].([]any)
	require.Len(t, boards, 1)
	assert.Equal(t, "arduino:avr:uno", boards[0].(map[string]any)["fqbn"])

	_, out = do(t, app, http.MethodGet, "/boards/available", "")
	assert.Len(t, out["boards"], 1)

	_, out = do(t, app, http.MethodGet, "/cores", "")
	assert.Equal(t, true, out["success"])
	assert.Len(t, out["cores"], 1)

	_, out = do(t, app, http.MethodGet, "/cores/search", "")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{}, out["platforms"])

	_, out = do(t, app, http.MethodGet, "/ports", "")
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["ports"], "detected_ports")
}

func TestListingParseFailure(t *testing.T) {
	app := newTestApp(t, nil)
	_, out := do(t, app, http.MethodGet, "/libraries", "")
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Failed to parse library list", out["error"])
}

func TestSearchLibraries(t *testing.T) {
	app := newTestApp(t, nil)

	_, out := do(t, app, http.MethodPost, "/libraries/search", `{"query":"Servo"}`)
	assert.Equal(t, true, out["success"])
	libs := out["libraries"].([]any)
	require.Len(t, libs, 1)
	assert.Equal(t, "Servo", libs[0].(map[string]any)["name"])

	// an empty body searches everything
	_, out = do(t, app, http.MethodPost, "/libraries/search", "")
	assert.Equal(t, true, out["success"])
}

func TestActions(t *testing.T) {
	app := newTestApp(t, nil)

	_, out := do(t, app, http.MethodPost, "/libraries/install", `{"library_name":"Servo"}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Installed Servo\n", out["message"])

	_, out = do(t, app, http.MethodPost, "/cores/install", `{"core_name":"nope:nope"}`)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Platform nope:nope not found\n", out["message"])

	status, _ := do(t, app, http.MethodPost, "/libraries/install", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCompileRecordsBuild(t *testing.T) {
	rec := &recorderStub{}
	app := newTestApp(t, rec)

	_, out := do(t, app, http.MethodPost, "/compile", `{"code":"void loop(){}","board":"arduino:avr:uno","sketch_path":"x"}`)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "void loop(){}", out["message"])

	require.Len(t, rec.builds, 1)
	assert.Equal(t, build.KindCompile, rec.builds[0].Kind)
	assert.Equal(t, "arduino:avr:uno", rec.builds[0].Board)
	assert.True(t, rec.builds[0].Success)
}

func TestUploadValidationAndRecorderFailure(t *testing.T) {
	rec := &recorderStub{err: errors.New("db down")}
	app := newTestApp(t, rec)

	status, out := do(t, app, http.MethodPost, "/upload", `{"code":"","board":"arduino:avr:uno"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "board and port are required", out["error"])
	assert.Empty(t, rec.builds)

	status, out = do(t, app, http.MethodPost, "/upload", `{"code":"","board":"arduino:avr:uno","port":"COM7"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	require.Len(t, rec.builds, 1)
	assert.Equal(t, "COM7", rec.builds[0].Port)
}

func TestCompileRequiresBoard(t *testing.T) {
	app := newTestApp(t, nil)
	status, out := do(t, app, http.MethodPost, "/compile", `{"code":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "board is required", out["error"])
}
