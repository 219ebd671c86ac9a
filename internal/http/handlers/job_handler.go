// Job HTTP handlers.
//
// The submission worker registers every provider job it starts, so that the
// provider's later webhook can be resolved to a user:
//   - POST /jobs               (register)
//   - GET  /users/{id}/jobs    (list, paginated)
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/services"
)

// CreateJobRequest is the JSON payload for registering a job.
type CreateJobRequest struct {
	RequestID    string `json:"request_id" binding:"required" example:"job-123"`
	UserID       uint64 `json:"user_id" binding:"required" example:"42"`
	ResourceName string `json:"resource_name" binding:"max=255" example:"Business Anna"`
	// Kind is avatar (default), enhance or transcript.
	Kind string `json:"kind" example:"avatar"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	Pagination Pagination   `json:"pagination"`
}

// CreateJob godoc
// @ID          createJob
// @Summary     Register a provider job
// @Description Records a PENDING job so the provider's webhook can be routed to its owner.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateJobRequest  true  "Job"
// @Success     201  {object}  domain.Job
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already registered"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/jobs [post]
func (h *Handlers) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request_id and user_id are required")
		return
	}
	job, err := h.jobs.Register(c.Request.Context(), req.UserID, req.RequestID, req.ResourceName, req.Kind)
	switch {
	case errors.Is(err, services.ErrInvalidJob):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrDuplicateJob):
		fail(c, http.StatusConflict, ErrCodeConflict, "job already registered")
	case err != nil:
		failInternal(c, ErrCodeCreateFailed, err)
	default:
		ok(c, http.StatusCreated, job)
	}
}

// ListUserJobs godoc
// @ID          listUserJobs
// @Summary     List a user's jobs (paginated)
// @Description Newest first.
// @Tags        Jobs
// @Produce     json
// @Param       id         path   int  true   "User id"
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListJobsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/users/{id}/jobs [get]
func (h *Handlers) ListUserJobs(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || userID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a positive integer")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.jobs.ListByUserPage(c.Request.Context(), userID, page, pageSize)
	if errors.Is(err, services.ErrUserNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		return
	}
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	if items == nil {
		items = []domain.Job{}
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: items, Pagination: newPagination(page, pageSize, total)})
}
