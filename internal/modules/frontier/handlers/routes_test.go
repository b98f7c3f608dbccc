package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoutes(t *testing.T) {
	handler, _ := setupTestHandler(t)

	router := chi.NewRouter()
	require.NotPanics(t, func() {
		handler.RegisterRoutes(router)
	}, "RegisterRoutes should not panic")

	testCases := []struct {
		method string
		path   string
		name   string
	}{
		{"POST", "/frontier/resample", "Resample"},
		{"POST", "/frontier/gmv", "GlobalMinimumVariance"},
		{"GET", "/frontier/results/abc", "GetResult"},
		{"GET", "/frontier/stream", "Stream"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			// Handlers reject the empty request, but the route itself must exist.
			assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code)
			if tc.name != "GetResult" {
				assert.NotEqual(t, http.StatusNotFound, rec.Code)
			}
		})
	}
}
