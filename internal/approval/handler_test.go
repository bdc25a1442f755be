package approval

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"facility_portal_backend/platform/httpkit"
	"facility_portal_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newTestRouter(svc *Service, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, userID)
		c.Set(httpkit.ContextRolesKey, []string{"customer"})
		c.Next()
	})

	h := NewHTTPHandler(svc)
	h.RegisterRoutes(engine.Group("/requests"), httpkit.NewVerifyRateLimiter(logger.New("development")))
	return engine
}

func TestVerifyEndpointRejectsMalformedCode(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	router := newTestRouter(svc, store.req.TenantID)

	for _, body := range []string{
		`{}`,
		`{"code":"12345"}`,
		`{"code":"1234567"}`,
		`{"code":"abc123"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/requests/"+store.req.ID.String()+"/otp/verify", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestVerifyEndpointWrongCodeIsNotAnError(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	router := newTestRouter(svc, store.req.TenantID)

	if err := svc.Generate(t.Context(), store.req.ID, *store.req.TechnicianID); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	wrong := "000000"
	if *store.storedCode() == wrong {
		wrong = "000001"
	}

	req := httptest.NewRequest(http.MethodPost, "/requests/"+store.req.ID.String()+"/otp/verify", strings.NewReader(`{"code":"`+wrong+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Verified bool   `json:"verified"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Verified {
		t.Error("wrong code reported as verified")
	}
	if resp.Reason == "" {
		t.Error("expected a reason for the failed verification")
	}
}

func TestVerifyEndpointSuccess(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	router := newTestRouter(svc, store.req.TenantID)

	if err := svc.Generate(t.Context(), store.req.ID, *store.req.TechnicianID); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	code := *store.storedCode()

	req := httptest.NewRequest(http.MethodPost, "/requests/"+store.req.ID.String()+"/otp/verify", strings.NewReader(`{"code":"`+code+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Verified bool `json:"verified"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp.Verified {
		t.Error("valid code not reported as verified")
	}
}

func TestGenerateEndpointForbiddenForOtherTechnician(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	// authenticated as someone who is not the assigned technician
	router := newTestRouter(svc, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/requests/"+store.req.ID.String()+"/otp", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	router := newTestRouter(svc, store.req.TenantID)

	req := httptest.NewRequest(http.MethodGet, "/requests/"+store.req.ID.String()+"/otp", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.State != StateNone {
		t.Errorf("state = %q, want none", resp.State)
	}
}

func TestEndpointsRejectBadRequestID(t *testing.T) {
	store := &fakeRequestStore{req: completedRequest()}
	svc := newTestService(store, &fakeDispatcher{}, &fakeBus{})
	router := newTestRouter(svc, store.req.TenantID)

	req := httptest.NewRequest(http.MethodGet, "/requests/not-a-uuid/otp", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
