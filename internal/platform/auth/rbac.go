package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Known clinical roles.
const (
	RoleAdmin       = "admin"
	RolePhysician   = "physician"
	RoleNurse       = "nurse"
	RoleRadiologist = "radiologist"
	RoleLabTech     = "lab_tech"
	RoleTherapist   = "therapist"
)

// roleDepartments maps worker roles to the department whose orders they
// execute. Roles without an entry (physician, nurse, admin) are not
// department workers.
var roleDepartments = map[string]string{
	RoleRadiologist: "imaging",
	RoleLabTech:     "lab",
	RoleTherapist:   "therapy",
}

// AllDepartments lists every department an order can be routed to.
var AllDepartments = []string{"imaging", "lab", "therapy"}

// DepartmentForRole returns the department a worker role executes orders
// for, or "" for non-worker roles.
func DepartmentForRole(role string) string {
	return roleDepartments[role]
}

// HasRole reports whether roles contains the given role. Admin implicitly
// satisfies every role check.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				if HasRole(userRoles, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
