package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/denoise-client/internal/audio"
	"github.com/skypro1111/denoise-client/internal/config"
	"github.com/skypro1111/denoise-client/internal/metrics"
	"github.com/skypro1111/denoise-client/internal/mockservice"
	"github.com/skypro1111/denoise-client/internal/playback"
	"github.com/skypro1111/denoise-client/internal/processing"
	"github.com/skypro1111/denoise-client/internal/session"
)

type testEnv struct {
	api     *httptest.Server
	handles *playback.Registry
	session *session.Session
}

func newTestEnv(t *testing.T, serviceURL string, mutate func(*config.Config)) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	if serviceURL == "" {
		upstream := httptest.NewServer(mockservice.New(mockservice.Config{}, logger).Handler())
		t.Cleanup(upstream.Close)
		serviceURL = upstream.URL + "/api"
	}

	appConfig := config.Default()
	appConfig.Service.BaseURL = serviceURL
	if mutate != nil {
		mutate(appConfig)
	}

	client, err := processing.NewClient(processing.Config{BaseURL: appConfig.Service.BaseURL},
		processing.WithLogger(logger), processing.WithMetrics(m))
	require.NoError(t, err)

	handles := playback.NewRegistry(appConfig.Playback.MaxBytes, m)
	sess := session.New(client, handles, logger, m, session.Config{})
	t.Cleanup(func() { sess.Close() })

	h := NewHTTPServer(appConfig, logger, sess, handles, client, m)
	api := httptest.NewServer(h.Handler())
	t.Cleanup(api.Close)

	return &testEnv{api: api, handles: handles, session: sess}
}

func (e *testEnv) upload(t *testing.T, filename string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(e.api.URL+"/session/file", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) post(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Post(e.api.URL+path, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(e.api.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func testWAV(t *testing.T) []byte {
	t.Helper()

	samples := make([]int16, 4000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	data, err := audio.EncodeWAV(samples, 16000)
	require.NoError(t, err)
	return data
}

func TestSelectProcessAndDownload(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.upload(t, "interview.wav", testWAV(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	selected := decode[session.Snapshot](t, resp)
	assert.Equal(t, session.StatusFileSelected, selected.Status)
	assert.Equal(t, "interview.wav", selected.FileName)
	assert.Equal(t, audio.ContentTypeWAV, selected.ContentType)
	assert.True(t, selected.CanStartProcessing)
	require.NotEmpty(t, selected.OriginalRef)

	resp = env.post(t, "/session/process?wait=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	done := decode[session.Snapshot](t, resp)
	assert.Equal(t, session.StatusSucceeded, done.Status)
	assert.Equal(t, session.OutcomeSucceeded, done.Outcome)
	assert.Equal(t, "processed_interview.wav", done.DownloadName)
	assert.Empty(t, done.ErrorMessage)
	require.NotEmpty(t, done.ProcessedRef)
	assert.Equal(t, selected.OriginalRef, done.OriginalRef)

	resp = env.get(t, "/playback/"+done.ProcessedRef.String()+"?download=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, audio.ContentTypeWAV, resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename=processed_interview.wav`, resp.Header.Get("Content-Disposition"))

	processed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NoError(t, audio.ValidateWAV(processed))

	// Bare ids resolve too
	resp = env.get(t, "/playback/"+done.OriginalRef.ID())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Disposition"))

	assert.Equal(t, 2, env.handles.Len())
}

func TestProcessWithoutSelection(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.post(t, "/session/process")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.NoSelectionMessage, decode[map[string]string](t, resp)["error"])

	snap := decode[session.Snapshot](t, env.get(t, "/session"))
	assert.Equal(t, session.StatusIdle, snap.Status)
	assert.Equal(t, session.NoSelectionMessage, snap.ErrorMessage)
	assert.False(t, snap.CanStartProcessing)
}

func TestProcessFailureShowsServiceMessage(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.upload(t, "notes.wav", []byte("not really audio at all"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[session.Snapshot](t, env.post(t, "/session/process?wait=true"))
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, session.OutcomeFailed, snap.Outcome)
	assert.Contains(t, snap.ErrorMessage, "WAV")
	assert.Empty(t, snap.ProcessedRef)
	assert.True(t, snap.CanStartProcessing)
}

func TestProcessUnreachableService(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/api"
	dead.Close()

	env := newTestEnv(t, deadURL, nil)
	require.Equal(t, http.StatusOK, env.upload(t, "a.wav", testWAV(t)).StatusCode)

	snap := decode[session.Snapshot](t, env.post(t, "/session/process?wait=true"))
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, "Unable to reach the processing service", snap.ErrorMessage)

	resp := env.get(t, "/models")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	health := decode[map[string]any](t, env.get(t, "/health"))
	assert.Equal(t, "degraded", health["status"])
}

func TestSelectFileErrors(t *testing.T) {
	env := newTestEnv(t, "", func(c *config.Config) {
		c.HTTP.MaxUploadMB = 1
	})

	resp := env.upload(t, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file part", decode[map[string]string](t, resp)["error"])

	resp = env.upload(t, "huge.wav", make([]byte, 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = env.upload(t, "empty.wav", []byte{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 0, env.handles.Len())
}

func TestSelectFileOverCapacity(t *testing.T) {
	env := newTestEnv(t, "", func(c *config.Config) {
		c.Playback.MaxBytes = 16
	})

	resp := env.upload(t, "a.wav", testWAV(t))
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
}

func TestReselectReleasesPlayback(t *testing.T) {
	env := newTestEnv(t, "", nil)

	first := decode[session.Snapshot](t, env.upload(t, "first.wav", testWAV(t)))
	second := decode[session.Snapshot](t, env.upload(t, "second.wav", testWAV(t)))

	assert.NotEqual(t, first.OriginalRef, second.OriginalRef)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/playback/"+first.OriginalRef.String()).StatusCode)
	assert.Equal(t, 1, env.handles.Len())
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.get(t, "/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string][]processing.ModelDescriptor](t, resp)
	require.Len(t, body["models"], 1)
	assert.Equal(t, "noise-gate", body["models"][0].Name)
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t, "", nil)

	health := decode[map[string]any](t, env.get(t, "/health"))
	assert.Equal(t, "healthy", health["status"])

	components, ok := health["components"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, components, "processing_service")
	assert.Contains(t, components, "session")
	assert.Contains(t, components, "playback")

	root := decode[map[string]any](t, env.get(t, "/"))
	assert.Equal(t, "Audio Noise Suppression Client", root["service"])
}

func TestPlaybackNotFound(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.get(t, "/playback/blob:does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "", func(c *config.Config) {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	})

	req, err := http.NewRequest(http.MethodOptions, env.api.URL+"/session/file", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
