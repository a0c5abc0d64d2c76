package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/handlers"
	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
)

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := ledger.NewCSVStore(filepath.Join(t.TempDir(), "progress.csv"), zerolog.Nop())
	m := metrics.New(nil)
	m.AddOrdersFetched(3)
	r := setupRouter(handlers.HandlerConfig{Store: store}, m, zerolog.Nop())

	tests := []struct {
		path     string
		code     int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "reconciler_orders_fetched_total 3"},
		{"/summary", http.StatusOK, `"total":0`},
		{"/orders/unknown", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
		if !strings.Contains(w.Body.String(), tt.contains) {
			t.Fatalf("%s: expected %q in %s", tt.path, tt.contains, w.Body.String())
		}
	}
}
