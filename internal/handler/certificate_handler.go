package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/internal/service"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
	"github.com/noah-isme/lms-cohort-api/pkg/response"
	"github.com/noah-isme/lms-cohort-api/pkg/storage"
)

// CertificateHandler exposes eligibility and issuance endpoints.
type CertificateHandler struct {
	issuance    *service.IssuanceService
	eligibility *service.EligibilityService
	storage     *storage.LocalStorage
	signer      *storage.SignedURLSigner
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(issuance *service.IssuanceService, eligibility *service.EligibilityService, store *storage.LocalStorage, signer *storage.SignedURLSigner) *CertificateHandler {
	return &CertificateHandler{issuance: issuance, eligibility: eligibility, storage: store, signer: signer}
}

type issueOneRequest struct {
	EnrollmentID string `json:"enrollment_id" binding:"required"`
	TemplateID   string `json:"template_id" binding:"required"`
}

type issueTargetRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// List godoc
// @Summary List certificates
// @Tags Certificates
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	var filter models.CertificateFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	certs, pagination, err := h.issuance.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, pagination)
}

// IssueOne godoc
// @Summary Issue a certificate for one enrollment
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body issueOneRequest true "Issuance payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/issue [post]
func (h *CertificateHandler) IssueOne(c *gin.Context) {
	var req issueOneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.issuance.IssueOne(c.Request.Context(), req.EnrollmentID, req.TemplateID, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// IssueMany godoc
// @Summary Issue certificates for a set of enrollments
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body service.IssueManyRequest true "Bulk issuance payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/issue-bulk [post]
func (h *CertificateHandler) IssueMany(c *gin.Context) {
	var req service.IssueManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.issuance.IssueMany(c.Request.Context(), req, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// IssueForBatch godoc
// @Summary Issue certificates for every eligible student of a batch
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body issueTargetRequest true "Template selection"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/certificates [post]
func (h *CertificateHandler) IssueForBatch(c *gin.Context) {
	var req issueTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.issuance.IssueForBatch(c.Request.Context(), c.Param("id"), req.TemplateID, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// IssueForCourse godoc
// @Summary Issue certificates for every eligible enrollment of a course
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body issueTargetRequest true "Template selection"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/certificates [post]
func (h *CertificateHandler) IssueForCourse(c *gin.Context) {
	var req issueTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.issuance.IssueForCourse(c.Request.Context(), c.Param("id"), req.TemplateID, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Regenerate godoc
// @Summary Re-render the artifact of an existing certificate
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/regenerate [post]
func (h *CertificateHandler) Regenerate(c *gin.Context) {
	cert, err := h.issuance.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// EligibleForBatch godoc
// @Summary List enrollments eligible for certificates in a batch
// @Tags Certificates
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/certificates/eligible [get]
func (h *CertificateHandler) EligibleForBatch(c *gin.Context) {
	eligible, err := h.eligibility.EligibleForBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, eligible, nil)
}

// EligibleForCourse godoc
// @Summary List enrollments eligible for certificates in a course
// @Tags Certificates
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/certificates/eligible [get]
func (h *CertificateHandler) EligibleForCourse(c *gin.Context) {
	eligible, err := h.eligibility.EligibleForCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, eligible, nil)
}

// Templates godoc
// @Summary List certificate templates visible to the caller
// @Tags Certificates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /certificates/templates [get]
func (h *CertificateHandler) Templates(c *gin.Context) {
	role, userID := currentUserRole(c)
	templates, err := h.issuance.ListTemplates(c.Request.Context(), role, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Download godoc
// @Summary Download a certificate artifact via a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	certificateID, relPath, _, err := h.signer.Parse(token)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token"))
		return
	}
	file, err := h.storage.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "certificate artifact not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="`+certificateID+`.pdf"`)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
