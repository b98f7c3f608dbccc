package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/modules/frontier"
	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func setupTestHandler(t *testing.T) (*Handler, chi.Router) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, frontier.InitSchema(db))

	logger := zerolog.Nop()
	engine := frontier.NewEngine(
		frontier.NewProjectedGradientSolver(frontier.DefaultSolverConfig()),
		frontier.Options{Points: 6, Workers: 2},
		logger,
	)
	service := frontier.NewService(engine, frontier.NewRepository(db), frontier.ServiceConfig{}, logger)
	handler := NewHandler(service, logger)

	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return handler, router
}

func requestBody() map[string]interface{} {
	return map[string]interface{}{
		"assets": []map[string]interface{}{
			{"id": "bonds", "return": 0.04, "stdev": 0.05, "min_weight": 0, "max_weight": 1},
			{"id": "equity", "return": 0.09, "stdev": 0.18, "min_weight": 0, "max_weight": 1},
		},
		"correlation":         [][]float64{{1, 0.2}, {0.2, 1}},
		"forecast_confidence": 24,
		"num_simulations":     4,
		"seed":                17,
	}
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleResample(t *testing.T) {
	_, router := setupTestHandler(t)

	w := post(t, router, "/api/frontier/resample", requestBody())
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data     frontier.Result        `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	assert.Contains(t, response.Metadata, "timestamp")
	assert.Len(t, response.Data.Portfolios, 6)
	assert.Equal(t, uint64(17), response.Data.Seed)
	assert.NotEmpty(t, response.Data.Key)
	assert.NotEmpty(t, response.Data.RunID)
	for _, p := range response.Data.Portfolios {
		assert.Len(t, p.Weights, 2)
	}
}

func TestHandleResample_InvalidBody(t *testing.T) {
	_, router := setupTestHandler(t)

	req := httptest.NewRequest("POST", "/api/frontier/resample", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleResample_InvalidInput(t *testing.T) {
	_, router := setupTestHandler(t)

	body := requestBody()
	body["correlation"] = [][]float64{{1, 0.2}, {0.3, 1}}

	w := post(t, router, "/api/frontier/resample", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid input")
}

func TestHandleGetResult(t *testing.T) {
	_, router := setupTestHandler(t)

	w := post(t, router, "/api/frontier/resample", requestBody())
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Data frontier.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	req := httptest.NewRequest("GET", "/api/frontier/results/"+created.Data.Key, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched struct {
		Data frontier.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fetched))
	assert.Equal(t, created.Data.RunID, fetched.Data.RunID)
	assert.True(t, fetched.Data.Cached)
}

func TestHandleGetResult_NotFound(t *testing.T) {
	_, router := setupTestHandler(t)

	req := httptest.NewRequest("GET", "/api/frontier/results/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGlobalMinimumVariance(t *testing.T) {
	_, router := setupTestHandler(t)

	body := requestBody()
	body["correlation"] = [][]float64{{1, 0}, {0, 1}}
	body["assets"] = []map[string]interface{}{
		{"id": "a", "return": 0.05, "stdev": 0.1, "min_weight": 0, "max_weight": 1},
		{"id": "b", "return": 0.10, "stdev": 0.2, "min_weight": 0, "max_weight": 1},
	}

	w := post(t, router, "/api/frontier/gmv", body)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	data := response["data"].(map[string]interface{})
	byAsset := data["by_asset"].(map[string]interface{})
	assert.InDelta(t, 0.8, byAsset["a"].(float64), 1e-3)
	assert.InDelta(t, 0.2, byAsset["b"].(float64), 1e-3)
	assert.Equal(t, false, data["degraded"])
}

func TestHandleGlobalMinimumVariance_InvalidInput(t *testing.T) {
	_, router := setupTestHandler(t)

	body := requestBody()
	body["assets"] = []map[string]interface{}{}

	w := post(t, router, "/api/frontier/gmv", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err    error
		status int
	}{
		{frontier.ErrInvalidInput, http.StatusBadRequest},
		{frontier.ErrNotFound, http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}

func TestHandleStream(t *testing.T) {
	_, router := setupTestHandler(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/frontier/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	data, err := json.Marshal(requestBody())
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	var progress []StreamEvent
	var final StreamEvent
	for {
		_, msg, err := conn.Read(ctx)
		require.NoError(t, err)

		var event StreamEvent
		require.NoError(t, json.Unmarshal(msg, &event))
		if event.Type == "progress" {
			progress = append(progress, event)
			continue
		}
		final = event
		break
	}

	require.Len(t, progress, 4)
	assert.Equal(t, 4, progress[3].Done)
	assert.Equal(t, 4, progress[3].Total)

	assert.Equal(t, "result", final.Type)
	require.NotNil(t, final.Result)
	assert.Len(t, final.Result.Portfolios, 6)
}

func TestHandleStream_InvalidInput(t *testing.T) {
	_, router := setupTestHandler(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/frontier/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	body := requestBody()
	body["num_simulations"] = 0
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)

	var event StreamEvent
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "error", event.Type)
	assert.Equal(t, http.StatusBadRequest, event.Status)
}
