package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meterrelay/internal/metrics"
	"meterrelay/internal/model"
	"meterrelay/internal/repository"
)

type staticHealth model.HealthSnapshot

func (s staticHealth) Last() model.HealthSnapshot { return model.HealthSnapshot(s) }

type fakeImages struct {
	images []model.Image
	limit  int
}

func (f *fakeImages) Insert(img *model.Image) (int64, error)              { return 0, nil }
func (f *fakeImages) MarkDelivered(filename string) error                 { return nil }
func (f *fakeImages) GetByFilename(filename string) (*model.Image, error) { return nil, nil }
func (f *fakeImages) Count() (int, error)                                 { return len(f.images), nil }
func (f *fakeImages) DeleteByFilepath(path string) error                  { return nil }
func (f *fakeImages) GetLatest(limit int) ([]model.Image, error) {
	f.limit = limit
	if limit < len(f.images) {
		return f.images[:limit], nil
	}
	return f.images, nil
}

func newTestServer(t *testing.T, health HealthSource, images *fakeImages, logDir string) (*httptest.Server, *Hub, *metrics.Metrics) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	var repo repository.ImageRepository
	if images != nil {
		repo = images
	}
	m := metrics.New(prometheus.NewRegistry())
	srv := httptest.NewServer(SetupRoutes(hub, Sources{Health: health, Images: repo, Metrics: m, LogDir: logDir}, nil))
	t.Cleanup(srv.Close)
	return srv, hub, m
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := newTestServer(t, staticHealth{DeviceID: "meter-01", Status: model.HealthRunning, CycleCount: 4}, nil, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.HealthSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "meter-01", got.DeviceID)
	assert.Equal(t, 4, got.CycleCount)
}

func TestHealthHandler_ErrorStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, staticHealth{Status: model.HealthError}, nil, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestImagesHandler_Limit(t *testing.T) {
	images := &fakeImages{images: []model.Image{{Filename: "a.jpg"}, {Filename: "b.jpg"}, {Filename: "c.jpg"}}}
	srv, _, _ := newTestServer(t, staticHealth{}, images, "")

	resp, err := http.Get(srv.URL + "/api/images?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []model.Image
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
	assert.Equal(t, 2, images.limit)

	resp2, err := http.Get(srv.URL + "/api/images?limit=bogus")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, 20, images.limit)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, m := newTestServer(t, staticHealth{}, nil, "")
	m.SetBacklog(3)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "meterrelay_backlog_size 3"), "metrics body: %s", body)
}

func TestLiveFeed(t *testing.T) {
	srv, hub, _ := newTestServer(t, staticHealth{}, nil, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, hub.Publish(model.CycleEvent{CycleID: "c1", StatusCode: model.StatusExtractedDelivered, Detected: true}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got model.CycleEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "c1", got.CycleID)
	assert.Equal(t, model.StatusExtractedDelivered, got.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishDoesNotBlockWithoutRunner(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < cap(hub.broadcast); i++ {
		assert.True(t, hub.Publish(model.CycleEvent{CycleID: "x"}))
	}
	assert.False(t, hub.Publish(model.CycleEvent{CycleID: "overflow"}))
}

func TestLogFileHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "error.log"), []byte("upload failed\n"), 0644))
	srv, _, _ := newTestServer(t, staticHealth{}, nil, dir)

	resp, err := http.Get(srv.URL + "/logs/error")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "upload failed")

	resp, err = http.Get(srv.URL + "/logs/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
