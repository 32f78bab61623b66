package order

import (
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/apperr"
)

// Action names one mutation an actor can attempt on an order.
type Action string

const (
	ActionCreate       Action = "create"
	ActionAccept       Action = "accept"
	ActionStart        Action = "start"
	ActionSubmitResult Action = "submit_result"
	ActionConfirm      Action = "confirm"
	ActionCancel       Action = "cancel"
	ActionDelete       Action = "delete"
)

// Actor is the authenticated identity attempting an action.
type Actor struct {
	ID    string
	Roles []string
}

// IsAdmin reports whether the actor holds the administrative role.
func (a Actor) IsAdmin() bool {
	return auth.HasRole(a.Roles, auth.RoleAdmin)
}

// relationship classifies how an actor stands to an order. One actor can
// hold several relationships at once (e.g. an admin who also placed the
// order).
type relationship string

const (
	relAdmin            relationship = "admin"
	relOrderer          relationship = "orderer"
	relAssignedWorker   relationship = "assigned_worker"
	relDepartmentWorker relationship = "department_worker" // role matches the order's department
	relOrderingRole     relationship = "ordering_role"     // holds the ordering capability
)

// policy is the single permission table: which relationships permit which
// action. Evaluated once per request instead of inline per endpoint.
var policy = map[Action][]relationship{
	ActionCreate:       {relAdmin, relOrderingRole},
	ActionAccept:       {relAdmin, relDepartmentWorker},
	ActionStart:        {relAssignedWorker},
	ActionSubmitResult: {relAssignedWorker},
	ActionConfirm:      {relAdmin, relOrderer}, // assigned worker added conditionally below
	ActionCancel:       {relAdmin, relOrderer, relAssignedWorker},
	ActionDelete:       {relAdmin},
}

// relationshipsOf computes every relationship the actor holds toward the
// order. For ActionCreate there is no order yet; pass a nil order.
func relationshipsOf(actor Actor, o *Order) map[relationship]bool {
	rels := map[relationship]bool{}
	if actor.IsAdmin() {
		rels[relAdmin] = true
	}
	if auth.HasRole(actor.Roles, auth.RolePhysician) {
		rels[relOrderingRole] = true
	}
	if o == nil {
		return rels
	}
	if o.OrderedBy == actor.ID {
		rels[relOrderer] = true
	}
	if o.AssignedTo(actor.ID) {
		rels[relAssignedWorker] = true
	}
	for _, role := range actor.Roles {
		if auth.DepartmentForRole(role) == o.JobRole {
			rels[relDepartmentWorker] = true
		}
	}
	return rels
}

// Authorize checks the policy table for the attempted action and returns a
// Forbidden error when no held relationship permits it.
func Authorize(action Action, actor Actor, o *Order) error {
	held := relationshipsOf(actor, o)

	allowed := policy[action]
	if action == ActionConfirm && o != nil && WorkerMayConfirm(o.JobRole) {
		allowed = append(append([]relationship{}, allowed...), relAssignedWorker)
	}

	for _, rel := range allowed {
		if held[rel] {
			return nil
		}
	}
	return apperr.Forbidden("actor %s may not %s this order", actor.ID, action)
}
