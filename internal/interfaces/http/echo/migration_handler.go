package echo

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	app "github.com/restoreworks/crm-migration/internal/application/migration"
	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

const (
	defaultBatchSize = 100
	defaultItemLimit = 50
	maxItemLimit     = 500
)

type MigrationHandler struct {
	service app.Service
	logger  *zap.Logger
}

type startMigrationRequest struct {
	Source    domain.Source `json:"source"`
	CreatedBy string        `json:"created_by"`
	BatchSize *int          `json:"batch_size"`
	domain.Options
}

type startMigrationResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

type jobResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

type itemsResponse struct {
	Items  []domain.Item `json:"items"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewMigrationHandler(service app.Service, logger *zap.Logger) *MigrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationHandler{service: service, logger: logger}
}

func (h *MigrationHandler) Start(c echo.Context) error {
	var req startMigrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	opts := req.Options
	opts.BatchSize = defaultBatchSize
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}

	job, err := h.service.Start(c.Request().Context(), app.StartInput{
		OrgID:     c.Param("org_id"),
		Source:    req.Source,
		Options:   opts,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return h.fail(c, err, "failed to start migration")
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: startMigrationResponse{JobID: job.ID, Status: job.Status}})
}

func (h *MigrationHandler) GetStatus(c echo.Context) error {
	jobID, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}

	status, err := h.service.GetStatus(c.Request().Context(), jobID)
	if err != nil {
		return h.fail(c, err, "failed to get migration status")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: status})
}

func (h *MigrationHandler) ListItems(c echo.Context) error {
	jobID, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}

	limit, err := queryInt(c, "limit", defaultItemLimit)
	if err != nil || limit <= 0 || limit > maxItemLimit {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_limit",
			Message: "limit must be between 1 and " + strconv.Itoa(maxItemLimit),
		}})
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_offset",
			Message: "offset must be a non-negative integer",
		}})
	}

	items, total, err := h.service.ListItems(c.Request().Context(), jobID, limit, offset)
	if err != nil {
		return h.fail(c, err, "failed to list migration items")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: itemsResponse{Items: items, Total: total, Limit: limit, Offset: offset}})
}

func (h *MigrationHandler) Pause(c echo.Context) error {
	return h.control(c, h.service.Pause, "failed to pause migration")
}

func (h *MigrationHandler) Resume(c echo.Context) error {
	return h.control(c, h.service.Resume, "failed to resume migration")
}

func (h *MigrationHandler) Cancel(c echo.Context) error {
	return h.control(c, h.service.Cancel, "failed to cancel migration")
}

func (h *MigrationHandler) Rollback(c echo.Context) error {
	return h.control(c, h.service.Rollback, "failed to roll back migration")
}

func (h *MigrationHandler) Estimate(c echo.Context) error {
	contacts, err := queryInt(c, "contacts", 0)
	if err != nil || contacts < 0 {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_contacts",
			Message: "contacts must be a non-negative integer",
		}})
	}
	jobs, err := queryInt(c, "jobs", 0)
	if err != nil || jobs < 0 {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_jobs",
			Message: "jobs must be a non-negative integer",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: map[string]string{"estimate": h.service.Estimate(contacts, jobs)}})
}

type controlFunc func(ctx context.Context, jobID string) (domain.Job, error)

func (h *MigrationHandler) control(c echo.Context, op controlFunc, failure string) error {
	jobID, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}

	job, err := op(c.Request().Context(), jobID)
	if err != nil {
		return h.fail(c, err, failure)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: jobResponse{JobID: job.ID, Status: job.Status}})
}

// fail maps engine errors onto status codes. Anything unexpected is logged
// and reported without detail.
func (h *MigrationHandler) fail(c echo.Context, err error, failure string) error {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_options",
			Message: "migration options are invalid",
			Fields:  vErr.Fields,
		}})
	case errors.Is(err, domain.ErrJobNotFound):
		return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
			Code:    "not_found",
			Message: "migration job not found",
		}})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
			Code:    "invalid_state",
			Message: err.Error(),
		}})
	case errors.Is(err, domain.ErrRollbackIncomplete):
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "rollback_incomplete",
			Message: "rollback stopped before every staged row was removed; retry the rollback",
		}})
	}

	h.logger.Error(failure, zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
		Code:    "internal_error",
		Message: failure,
	}})
}

func jobIDParam(c echo.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func invalidJobID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
		Code:    "invalid_job_id",
		Message: "id must be a valid UUID",
	}})
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
