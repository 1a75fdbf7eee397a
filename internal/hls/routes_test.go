package hls

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/source"
)

func newTestServer() (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	sources := source.NewRegistry(nil, nil)
	srv := NewServer(sources, PipelineConfig{Sources: sources}, func(segLen float64) time.Duration {
		return time.Duration(segLen*2) * time.Second
	})
	r := gin.New()
	srv.Register(r)
	return srv, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostSpec_CreatesAndIsReadableViaGetSpec(t *testing.T) {
	_, r := newTestServer()

	rec := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec2 := doJSON(t, r, http.MethodGet, "/v2/spec/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"frames_applied":0`)
}

func TestGetSpec_UnknownIDReturns404(t *testing.T) {
	_, r := newTestServer()
	rec := doJSON(t, r, http.MethodGet, "/v2/spec/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostPart_AppliesFramesAndAdvancesFrontier(t *testing.T) {
	_, r := newTestServer()

	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	frame := []any{[2]int64{0, 30}, map[string]any{
		"Data": map[string]any{"Int": 1},
	}}
	body := map[string]any{
		"pos":      0,
		"terminal": true,
		"frames":   []any{frame},
	}
	rec := doJSON(t, r, http.MethodPost, "/v2/spec/"+sp.ID+"/part", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := doJSON(t, r, http.MethodGet, "/v2/spec/"+sp.ID, nil)
	assert.Contains(t, rec2.Body.String(), `"frames_applied":1`)
	assert.Contains(t, rec2.Body.String(), `"closed":true`)
}

func TestPostPart_UnknownSpecReturns404(t *testing.T) {
	_, r := newTestServer()
	rec := doJSON(t, r, http.MethodPost, "/v2/spec/nope/part", map[string]any{
		"pos": 0, "terminal": true, "frames": []any{},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostPart_MalformedBodyReturns400(t *testing.T) {
	_, r := newTestServer()
	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	req := httptest.NewRequest(http.MethodPost, "/v2/spec/"+sp.ID+"/part", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatus_ReflectsClosedAndReady(t *testing.T) {
	_, r := newTestServer()
	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{1, 1},
		"frame_rate":         [2]int64{1, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	frame := []any{[2]int64{0, 1}, map[string]any{"Data": map[string]any{"Int": 1}}}
	doJSON(t, r, http.MethodPost, "/v2/spec/"+sp.ID+"/part", map[string]any{
		"pos": 0, "terminal": true, "frames": []any{frame},
	})

	rec := doJSON(t, r, http.MethodGet, "/vod/"+sp.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":true`)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestGetMediaPlaylist_UnknownSpecReturns404(t *testing.T) {
	_, r := newTestServer()
	rec := doJSON(t, r, http.MethodGet, "/vod/nope/stream.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMasterPlaylist_ReturnsPlaylistBody(t *testing.T) {
	_, r := newTestServer()
	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 1280, "height": 720,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	rec := doJSON(t, r, http.MethodGet, "/vod/"+sp.ID+"/playlist.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#EXTM3U")
}

func TestGetSegment_NotReadyReturns404(t *testing.T) {
	_, r := newTestServer()
	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	rec := doJSON(t, r, http.MethodGet, "/vod/"+sp.ID+"/segment-0.ts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPruneIdle_RemovesOnlyExpiredSpecs(t *testing.T) {
	srv, r := newTestServer()
	created := doJSON(t, r, http.MethodPost, "/v2/spec", map[string]any{
		"width": 640, "height": 360,
		"vod_segment_length": [2]int64{2, 1},
		"frame_rate":         [2]int64{30, 1},
	})
	var sp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sp))

	assert.Equal(t, 0, srv.PruneIdle(time.Hour))
	assert.Equal(t, 1, srv.PruneIdle(0))

	_, ok := srv.lookupSpec(sp.ID)
	assert.False(t, ok)
}
