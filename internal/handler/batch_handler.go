package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-cohort-api/internal/middleware"
	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/internal/service"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
	"github.com/noah-isme/lms-cohort-api/pkg/response"
)

// BatchHandler exposes batch lifecycle and week progress endpoints.
type BatchHandler struct {
	batches  *service.BatchLifecycleService
	progress *service.ProgressService
}

// NewBatchHandler constructs BatchHandler.
func NewBatchHandler(batches *service.BatchLifecycleService, progress *service.ProgressService) *BatchHandler {
	return &BatchHandler{batches: batches, progress: progress}
}

// List godoc
// @Summary List batches
// @Tags Batches
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	var filter models.BatchFilter
	filter.CourseID = c.Query("courseId")
	filter.Status = models.BatchStatus(c.Query("status"))
	if active := c.Query("active"); active != "" {
		if active == "true" {
			v := true
			filter.Active = &v
		} else if active == "false" {
			v := false
			filter.Active = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	batches, pagination, err := h.batches.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// Get godoc
// @Summary Get batch detail
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Create godoc
// @Summary Create batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param payload body service.CreateBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Router /batches [post]
func (h *BatchHandler) Create(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	batch, err := h.batches.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, batch)
}

// Start godoc
// @Summary Start a batch
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/start [post]
func (h *BatchHandler) Start(c *gin.Context) {
	batch, err := h.batches.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// SetDates godoc
// @Summary Set batch dates
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body service.SetBatchDatesRequest true "Dates payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/dates [put]
func (h *BatchHandler) SetDates(c *gin.Context) {
	var req service.SetBatchDatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	batch, err := h.batches.SetDates(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Restart godoc
// @Summary Restart a batch, wiping week progress
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/restart [post]
func (h *BatchHandler) Restart(c *gin.Context) {
	batch, err := h.batches.Restart(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Complete godoc
// @Summary Mark a batch as completed
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/complete [post]
func (h *BatchHandler) Complete(c *gin.Context) {
	batch, err := h.batches.MarkCompleted(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Archive godoc
// @Summary Archive a batch
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/archive [post]
func (h *BatchHandler) Archive(c *gin.Context) {
	batch, err := h.batches.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Delete godoc
// @Summary Deactivate a batch
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Param hard query bool false "Remove the record entirely"
// @Success 204
// @Router /batches/{id} [delete]
func (h *BatchHandler) Delete(c *gin.Context) {
	var err error
	if c.Query("hard") == "true" {
		err = h.batches.HardDelete(c.Request.Context(), c.Param("id"))
	} else {
		err = h.batches.SoftDelete(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AssignStudent godoc
// @Summary Add a student to the batch roster
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /batches/{id}/students/{studentId} [put]
func (h *BatchHandler) AssignStudent(c *gin.Context) {
	if err := h.batches.AssignStudent(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveStudent godoc
// @Summary Remove a student from the batch roster
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /batches/{id}/students/{studentId} [delete]
func (h *BatchHandler) RemoveStudent(c *gin.Context) {
	if err := h.batches.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Progress godoc
// @Summary Get week progress for a batch
// @Tags Progress
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/progress [get]
func (h *BatchHandler) Progress(c *gin.Context) {
	summary, err := h.progress.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// SetWeekStatus godoc
// @Summary Complete or reopen one week
// @Tags Progress
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body service.SetWeekStatusRequest true "Week payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/progress [put]
func (h *BatchHandler) SetWeekStatus(c *gin.Context) {
	var req service.SetWeekStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	summary, err := h.progress.SetWeekStatus(c.Request.Context(), c.Param("id"), req, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

func currentUserID(c *gin.Context) string {
	if v, ok := c.Get(middleware.ContextUserKey); ok {
		if claims, ok := v.(*models.JWTClaims); ok {
			return claims.UserID
		}
	}
	return ""
}

func currentUserRole(c *gin.Context) (models.UserRole, string) {
	if v, ok := c.Get(middleware.ContextUserKey); ok {
		if claims, ok := v.(*models.JWTClaims); ok {
			return claims.Role, claims.UserID
		}
	}
	return "", ""
}
