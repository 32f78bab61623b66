package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequireRole_Allows(t *testing.T) {
	c, _ := requestWithRoles(RoleLabTech)
	called := false
	h := RequireRole(RoleLabTech, RoleRadiologist)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _ := requestWithRoles(RoleAdmin)
	h := RequireRole(RoleRadiologist)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("expected admin to pass any role check, got %v", err)
	}
}

func TestRequireRole_Forbids(t *testing.T) {
	c, _ := requestWithRoles(RoleNurse)
	h := RequireRole(RolePhysician)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
}

func TestDepartmentForRole(t *testing.T) {
	if d := DepartmentForRole(RoleRadiologist); d != "imaging" {
		t.Errorf("radiologist department = %q, want imaging", d)
	}
	if d := DepartmentForRole(RolePhysician); d != "" {
		t.Errorf("physician should have no department, got %q", d)
	}
}
