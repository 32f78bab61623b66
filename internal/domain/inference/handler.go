package inference

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/artifacts"
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
	read.GET("/inference-jobs", h.List)
	read.GET("/inference-jobs/:id", h.Get)
	read.GET("/inference-jobs/:id/files", h.ListFiles)
	read.GET("/inference-jobs/:id/files/:name", h.DownloadFile)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician))
	write.POST("/inference-jobs", h.Request)
	write.POST("/inference-jobs/:id/cancel", h.Cancel)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/inference-jobs/:id", h.Delete)
}

// RegisterCallback mounts the compute-service callback on g. The group
// is expected to carry the IP allow-list middleware instead of actor
// authentication.
func (h *Handler) RegisterCallback(g *echo.Group) {
	g.POST("/inference/callback", h.Callback)
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

func jobID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	return id, nil
}

// requestResponse reports the job plus whether it was a dedup cache hit.
type requestResponse struct {
	Job    *Job   `json:"job"`
	Cached bool   `json:"cached"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) Request(c echo.Context) error {
	var in RequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, cached, err := h.svc.RequestJob(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		if job == nil {
			return httpError(err)
		}
		// Dispatch failed; the job row is retained in failed status and
		// returned alongside the classification.
		return c.JSON(apperr.HTTPStatus(err), requestResponse{Job: job, Error: err.Error()})
	}
	status := http.StatusCreated
	if cached {
		status = http.StatusOK
	}
	return c.JSON(status, requestResponse{Job: job, Cached: cached})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	job, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	filter := ListFilter{
		Status:      c.QueryParam("status"),
		ModelType:   c.QueryParam("model_type"),
		RequestedBy: c.QueryParam("requested_by"),
	}
	items, total, err := h.svc.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	job, err := h.svc.Cancel(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actorFrom(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListFiles(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	files, err := h.svc.ListFiles(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, files)
}

func (h *Handler) DownloadFile(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	rc, contentType, err := h.svc.OpenFile(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		switch err {
		case artifacts.ErrFileNotFound:
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		case artifacts.ErrInvalidName:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
		}
		return httpError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) Callback(c echo.Context) error {
	var in CallbackInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job, err := h.svc.HandleCallback(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, job)
}
