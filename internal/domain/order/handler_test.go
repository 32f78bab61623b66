package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
)

func asActor(id string, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, auth.UserIDKey, id)
			ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newTestServer(actorID string, roles ...string) (*echo.Echo, *Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, &mockNotifier{})
	e := echo.New()
	api := e.Group("/api/v1", asActor(actorID, roles...))
	NewHandler(svc).RegisterRoutes(api)
	return e, svc, repo
}

func doJSON(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderEndpoint(t *testing.T) {
	e, _, _ := newTestServer("phys-1", auth.RolePhysician)

	body := `{"job_role":"imaging","job_type":"chest_ct","patient_id":"` + uuid.NewString() + `"}`
	rec := doJSON(e, http.MethodPost, "/api/v1/orders", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var o Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o.DisplayID != "ocs_0001" || o.Status != StatusOrdered {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestCreateOrderForbiddenForNurse(t *testing.T) {
	e, _, _ := newTestServer("n-1", auth.RoleNurse)

	body := `{"job_role":"imaging","job_type":"chest_ct","patient_id":"` + uuid.NewString() + `"}`
	rec := doJSON(e, http.MethodPost, "/api/v1/orders", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAcceptEndpointStatusMapping(t *testing.T) {
	e, svc, _ := newTestServer("rad-1", auth.RoleRadiologist)

	o, err := svc.Create(context.Background(), physician, CreateInput{
		JobRole: "imaging", JobType: "chest_ct", PatientID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/api/v1/orders/"+o.ID.String()+"/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Second accept conflicts with the new state.
	rec = doJSON(e, http.MethodPost, "/api/v1/orders/"+o.ID.String()+"/accept", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double accept, got %d", rec.Code)
	}

	// Unknown order maps to 404.
	rec = doJSON(e, http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/accept", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}

	// Malformed id maps to 400.
	rec = doJSON(e, http.MethodPost, "/api/v1/orders/not-a-uuid/accept", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestListEndpoint(t *testing.T) {
	e, svc, _ := newTestServer("n-1", auth.RoleNurse)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), physician, CreateInput{
			JobRole: "lab", JobType: "cbc", PatientID: uuid.New(),
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/orders?status=ordered", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []Order `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 3 {
		t.Errorf("expected 3 orders, got total=%d len=%d", resp.Total, len(resp.Data))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e, svc, _ := newTestServer("rad-1", auth.RoleRadiologist)

	o, err := svc.Create(context.Background(), physician, CreateInput{
		JobRole: "imaging", JobType: "chest_ct", PatientID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Accept(context.Background(), radiologist, o.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/orders/"+o.ID.String()+"/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history []StatusChange
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(history) != 2 || history[0].Status != StatusOrdered || history[1].Status != StatusAccepted {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestDeleteEndpointRequiresAdmin(t *testing.T) {
	e, svc, _ := newTestServer("phys-1", auth.RolePhysician)

	o, err := svc.Create(context.Background(), physician, CreateInput{
		JobRole: "imaging", JobType: "chest_ct", PatientID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := doJSON(e, http.MethodDelete, "/api/v1/orders/"+o.ID.String(), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
