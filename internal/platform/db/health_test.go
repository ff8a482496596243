package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks ...Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestHealthHandler_NoChecks(t *testing.T) {
	code, body := runHealth(t)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	ok := Check{Name: "cache", Ping: func(context.Context) error { return nil }}
	bad := Check{
		Name:    "database",
		Ping:    func(context.Context) error { return errors.New("connection refused") },
		Details: func() interface{} { return &PoolStats{MaxConns: 10} },
	}

	code, body := runHealth(t, ok, bad)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	checks := body["checks"].(map[string]interface{})
	db := checks["database"].(map[string]interface{})
	if db["error"] != "connection refused" {
		t.Errorf("expected error message, got %v", db["error"])
	}
	if db["details"].(map[string]interface{})["max_conns"].(float64) != 10 {
		t.Errorf("expected pool details, got %v", db["details"])
	}
	if checks["cache"].(map[string]interface{})["status"] != "ok" {
		t.Errorf("expected cache ok, got %v", checks["cache"])
	}
}
