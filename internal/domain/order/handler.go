package order

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(
		auth.RoleAdmin, auth.RolePhysician, auth.RoleNurse,
		auth.RoleRadiologist, auth.RoleLabTech, auth.RoleTherapist))
	read.GET("/orders", h.List)
	read.GET("/orders/:id", h.Get)
	read.GET("/orders/:id/history", h.GetHistory)

	write := api.Group("", auth.RequireRole(
		auth.RoleAdmin, auth.RolePhysician,
		auth.RoleRadiologist, auth.RoleLabTech, auth.RoleTherapist))
	write.POST("/orders", h.Create)
	write.POST("/orders/:id/accept", h.Accept)
	write.POST("/orders/:id/start", h.Start)
	write.POST("/orders/:id/result", h.SubmitResult)
	write.POST("/orders/:id/confirm", h.Confirm)
	write.POST("/orders/:id/cancel", h.Cancel)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/orders/:id", h.Delete)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		ID:    auth.UserIDFromContext(ctx),
		Roles: auth.RolesFromContext(ctx),
	}
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func orderID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.Create(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.GetHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	filter := ListFilter{
		Status:    c.QueryParam("status"),
		JobRole:   c.QueryParam("job_role"),
		OrderedBy: c.QueryParam("ordered_by"),
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = &pid
	}

	items, total, err := h.svc.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Accept(c echo.Context) error {
	return h.transition(c, h.svc.Accept)
}

func (h *Handler) Start(c echo.Context) error {
	return h.transition(c, h.svc.Start)
}

type resultRequest struct {
	Result json.RawMessage `json:"result"`
}

func (h *Handler) SubmitResult(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.SubmitResult(c.Request().Context(), actorFrom(c), id, req.Result)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type confirmRequest struct {
	Outcome bool `json:"outcome"`
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.Confirm(c.Request().Context(), actorFrom(c), id, req.Outcome)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.Cancel(c.Request().Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	if err := h.svc.SoftDelete(c.Request().Context(), actorFrom(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error)) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := fn(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
