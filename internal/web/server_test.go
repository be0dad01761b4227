package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webp-shrink/internal/config"
	"webp-shrink/internal/encoder"
	"webp-shrink/internal/extractor"
	"webp-shrink/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaledCompressor returns quality% of the input length and rejects inputs
// starting with "corrupt".
func scaledCompressor() encoder.Compressor {
	return encoder.CompressorFunc(func(data []byte, quality int) ([]byte, error) {
		if bytes.HasPrefix(data, []byte("corrupt")) {
			return nil, errors.New("unsupported image format")
		}
		return bytes.Repeat([]byte{'w'}, len(data)*quality/100), nil
	})
}

type testEnv struct {
	server *Server
	fs     afero.Fs
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.jpg", make([]byte, 500*1024), 0644))
	require.NoError(t, afero.WriteFile(fs, "/in/b.png", []byte("corrupt data"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/in/notes.txt", []byte("hi"), 0644))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 12, 8))))
	require.NoError(t, afero.WriteFile(fs, "/pics/tiny.png", buf.Bytes(), 0644))

	cfg := config.DefaultConfig()
	log := logger.Discard()
	s, err := NewServer(cfg, log, fs, scaledCompressor(), extractor.NewEXIFExtractor(fs, log, false), prometheus.NewRegistry())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: s, fs: fs, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func (e *testEnv) convert(t *testing.T) {
	t.Helper()
	resp, out := e.do(t, "POST", "/api/convert", ConvertRequest{
		Files:        []string{"/in/a.jpg", "/in/b.png"},
		TargetSizeKB: floatPtr(200),
		MinQuality:   intPtr(40),
		MaxQuality:   intPtr(90),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, out.Success)
	e.server.Wait()
}

func TestStatus_Idle(t *testing.T) {
	env := newTestEnv(t)
	resp, out := env.do(t, "GET", "/api/status", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := out.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
	assert.NotContains(t, data, "batch_id")
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t)
	_, out := env.do(t, "GET", "/api/files?path=/in", nil)

	files := out.Data.([]interface{})
	require.Len(t, files, 2)
	first := files[0].(map[string]interface{})
	assert.Equal(t, "/in/a.jpg", first["path"])
	assert.EqualValues(t, 500, first["size_kb"])
}

func TestConvert_Results(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, out := env.do(t, "GET", "/api/results", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := out.Data.(map[string]interface{})
	assert.EqualValues(t, 1, report["converted"])
	assert.EqualValues(t, 1, report["failed"])

	files := report["files"].([]interface{})
	a := files[0].(map[string]interface{})
	assert.EqualValues(t, 500, a["original_size_kb"])
	assert.EqualValues(t, 200, a["final_size_kb"])
	assert.EqualValues(t, 40, a["quality_used"])
	b := files[1].(map[string]interface{})
	assert.Equal(t, "encode_error", b["error_kind"])

	_, status := env.do(t, "GET", "/api/status", nil)
	data := status.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
	assert.NotEmpty(t, data["batch_id"])
}

func TestConvert_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, "POST", "/api/convert", ConvertRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, out.Success)

	resp, _ = env.do(t, "POST", "/api/convert", ConvertRequest{
		Files:      []string{"/in/a.jpg"},
		MinQuality: intPtr(90),
		MaxQuality: intPtr(40),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/convert", ConvertRequest{
		Files:        []string{"/in/a.jpg"},
		TargetSizeKB: floatPtr(0),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/convert", ConvertRequest{
		Files:      []string{"/in/a.jpg"},
		MaxQuality: intPtr(101),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest("POST", env.http.URL+"/api/convert", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestConvert_ExplicitZeroQuality(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/api/convert", ConvertRequest{
		Files:        []string{"/in/a.jpg"},
		TargetSizeKB: floatPtr(100),
		MinQuality:   intPtr(0),
		MaxQuality:   intPtr(30),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.server.Wait()

	_, out := env.do(t, "GET", "/api/results", nil)
	report := out.Data.(map[string]interface{})
	params := report["params"].(map[string]interface{})
	assert.EqualValues(t, 0, params["min_quality"])
	assert.EqualValues(t, 30, params["max_quality"])

	a := report["files"].([]interface{})[0].(map[string]interface{})
	assert.EqualValues(t, 20, a["quality_used"])
	assert.EqualValues(t, 100, a["final_size_kb"])
}

func TestConvert_OmittedFieldsUseConfig(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/api/convert", ConvertRequest{Files: []string{"/in/a.jpg"}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.server.Wait()

	_, out := env.do(t, "GET", "/api/results", nil)
	params := out.Data.(map[string]interface{})["params"].(map[string]interface{})
	assert.EqualValues(t, 200, params["target_size_kb"])
	assert.EqualValues(t, 40, params["min_quality"])
	assert.EqualValues(t, 90, params["max_quality"])
}

func TestResults_BeforeConvert(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/api/results", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/save-all", SaveAllRequest{Directory: "/out"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, err := http.Get(env.http.URL + "/api/results/0/download")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="a.webp"`)
	assert.EqualValues(t, 200*1024, resp.ContentLength)

	failed, _ := env.do(t, "GET", "/api/results/1/download", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, failed.StatusCode)

	missing, _ := env.do(t, "GET", "/api/results/7/download", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSave(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, out := env.do(t, "POST", "/api/save", SaveRequest{Index: 0, Directory: "/out"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := out.Data.(map[string]interface{})
	assert.Equal(t, "/out/a.webp", res["path"])

	data, err := afero.ReadFile(env.fs, "/out/a.webp")
	require.NoError(t, err)
	assert.Len(t, data, 200*1024)
}

func TestSave_NoDirectoryIsCanceled(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, out := env.do(t, "POST", "/api/save", SaveRequest{Index: 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out.Data.(map[string]interface{})["canceled"])

	exists, err := afero.Exists(env.fs, "a.webp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveAll(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, out := env.do(t, "POST", "/api/save-all", SaveAllRequest{Directory: "/export"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := out.Data.(map[string]interface{})
	assert.Equal(t, "/export", res["directory"])
	assert.Len(t, res["results"], 1)

	exists, err := afero.Exists(env.fs, "/export/a.webp")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveAll_NoDirectoryIsCanceled(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, out := env.do(t, "POST", "/api/save-all", SaveAllRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out.Data.(map[string]interface{})["canceled"])
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, "GET", "/api/inspect?path=/pics/tiny.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	md := out.Data.(map[string]interface{})
	assert.Equal(t, "png", md["format"])
	assert.EqualValues(t, 12, md["width"])

	resp, _ = env.do(t, "GET", "/api/inspect", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.convert(t)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `webp_shrink_conversions_total{result="success"} 1`)
}

func TestWebSocketProgress(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler registers the client after the upgrade completes.
	require.Eventually(t, func() bool {
		env.server.wsMutex.RLock()
		defer env.server.wsMutex.RUnlock()
		return len(env.server.wsClients) == 1
	}, time.Second, 10*time.Millisecond)

	env.convert(t)

	var types []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(types) < 4 {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{
		"conversion_started",
		"conversion_progress",
		"conversion_progress",
		"conversion_completed",
	}, types)
}
