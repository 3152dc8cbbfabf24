package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
	"github.com/noah-isme/sma-school-api/pkg/storage"
)

type exportService interface {
	ExportScoreSheet(ctx context.Context, actor models.Actor, req service.ScoreSheetExportRequest) (*models.ExportFile, error)
	ExportPayments(ctx context.Context, actor models.Actor, req service.PaymentReportExportRequest) (*models.ExportFile, error)
	Resolve(token string) (*storage.Grant, *os.File, error)
}

var exportContentTypes = map[string]string{
	".csv": "text/csv; charset=utf-8",
	".pdf": "application/pdf",
}

// ExportHandler generates report files and serves signed downloads.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// ScoreSheet godoc
// @Summary Export class score sheet
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Param class_id query string true "Class"
// @Param subject_id query string true "Subject"
// @Param semester query int true "Semester"
// @Param academic_year query string true "Academic year"
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /scores/export [get]
func (h *ExportHandler) ScoreSheet(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.ScoreSheetExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	file, err := h.service.ExportScoreSheet(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Payments godoc
// @Summary Export payment report
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param fee_id query string false "Fee"
// @Param class_id query string false "Class"
// @Param status query string false "Payment status"
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /payments/export [get]
func (h *ExportHandler) Payments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.PaymentReportExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	file, err := h.service.ExportPayments(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Download godoc
// @Summary Download an export through its signed token
// @Tags Exports
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	_, file, err := h.service.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read export"))
		return
	}
	name := filepath.Base(file.Name())
	contentType, ok := exportContentTypes[filepath.Ext(name)]
	if !ok {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
		"Cache-Control":       "no-store",
	})
}
