package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"opencwmp/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Registry, *store.TaskQueue) {
	t.Helper()
	svc, registry, queue := newTestService(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(svc).Register(router.Group("/api/v1"))
	return router, registry, queue
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDeviceEndpoints(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	register(t, registry, "SN-1", time.Now())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var listing struct {
		Devices []DeviceSummary `json:"devices"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if listing.Count != 1 || listing.Devices[0].SerialNumber != "SN-1" {
		t.Errorf("unexpected listing: %+v", listing)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/SN-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/SN-ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get unknown: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices?online=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400, got %d", rec.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	register(t, registry, "SN-1", time.Now())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices/SN-1/tasks",
		`{"kind":"SetParameterValues","payload":{"Device.WiFi.SSID.1.SSID":"home-net"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if created.Status != store.TaskPending {
		t.Errorf("expected pending task, got %s", created.Status)
	}

	// Validation surfaces as 400s
	rec = doJSON(t, router, http.MethodPost, "/api/v1/devices/SN-1/tasks",
		`{"kind":"SetParameterValues"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty payload: expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/devices/SN-1/tasks",
		`{"kind":"Download"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/devices/SN-ghost/tasks",
		`{"kind":"Reboot"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get task: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/SN-1/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list tasks: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel again: expected 404, got %d", rec.Code)
	}
}

func TestCancelSentTaskConflicts(t *testing.T) {
	router, registry, queue := newTestRouter(t)
	register(t, registry, "SN-1", time.Now())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices/SN-1/tasks", `{"kind":"Reboot"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue: expected 201, got %d", rec.Code)
	}
	var task store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}

	if _, err := queue.ClaimNext("SN-1"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel sent: expected 409, got %d", rec.Code)
	}
}
