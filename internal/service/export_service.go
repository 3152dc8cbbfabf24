package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/export"
	"github.com/noah-isme/sma-school-api/pkg/storage"
)

const exportPageSize = 100

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type exportScoreSource interface {
	ClassScores(ctx context.Context, schoolID, classID, subjectID string, semester int, academicYear string) ([]ClassScoreRow, error)
}

type exportPaymentSource interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentView, *models.Pagination, error)
}

// ScoreSheetExportRequest selects a class score sheet.
type ScoreSheetExportRequest struct {
	ClassID      string              `json:"class_id" form:"class_id" validate:"required"`
	SubjectID    string              `json:"subject_id" form:"subject_id" validate:"required"`
	Semester     int                 `json:"semester" form:"semester" validate:"required,oneof=1 2"`
	AcademicYear string              `json:"academic_year" form:"academic_year" validate:"required"`
	Format       models.ExportFormat `json:"format" form:"format" validate:"omitempty,oneof=csv pdf"`
}

// PaymentReportExportRequest selects the payments of a report.
type PaymentReportExportRequest struct {
	FeeID   string               `json:"fee_id" form:"fee_id"`
	ClassID string               `json:"class_id" form:"class_id"`
	Status  models.PaymentStatus `json:"status" form:"status" validate:"omitempty,oneof=unpaid partial paid"`
	Format  models.ExportFormat  `json:"format" form:"format" validate:"omitempty,oneof=csv pdf"`
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders score sheets and payment reports and stores them
// behind signed download links.
type ExportService struct {
	scores    exportScoreSource
	classes   scoreClassSource
	subjects  scoreSubjectSource
	payments  exportPaymentSource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// ExportServiceParams groups the collaborators of ExportService.
type ExportServiceParams struct {
	Scores    exportScoreSource
	Classes   scoreClassSource
	Subjects  scoreSubjectSource
	Payments  exportPaymentSource
	Storage   fileStorage
	Signer    *storage.SignedURLSigner
	CSV       csvRenderer
	PDF       pdfRenderer
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(params ExportServiceParams) *ExportService {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Config.ResultTTL <= 0 {
		params.Config.ResultTTL = 24 * time.Hour
	}
	if params.CSV == nil {
		params.CSV = export.NewCSVExporter()
	}
	if params.PDF == nil {
		params.PDF = export.NewPDFExporter()
	}
	return &ExportService{
		scores:    params.Scores,
		classes:   params.Classes,
		subjects:  params.Subjects,
		payments:  params.Payments,
		storage:   params.Storage,
		csv:       params.CSV,
		pdf:       params.PDF,
		signer:    params.Signer,
		validator: params.Validator,
		logger:    params.Logger,
		cfg:       params.Config,
		now:       time.Now,
	}
}

// ExportScoreSheet renders the score sheet of one class, subject and semester.
// Each score type gets a column listing the values entered for it.
func (s *ExportService) ExportScoreSheet(ctx context.Context, actor models.Actor, req ScoreSheetExportRequest) (*models.ExportFile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid export parameters")
	}
	class, err := s.classes.FindByID(ctx, nil, actor.SchoolID, req.ClassID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	subject, err := s.subjects.FindByID(ctx, actor.SchoolID, req.SubjectID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "subject not found", "failed to load subject")
	}
	rows, err := s.scores.ClassScores(ctx, actor.SchoolID, req.ClassID, req.SubjectID, req.Semester, req.AcademicYear)
	if err != nil {
		return nil, err
	}

	columns := []export.Column{
		{Header: "No", Width: 0.6, Align: "C"},
		{Header: "Student Code", Width: 1.4},
		{Header: "Full Name", Width: 3},
	}
	for _, t := range models.ScoreTypes() {
		columns = append(columns, export.Column{Header: scoreTypeHeader(t), Width: 1.2, Align: "C"})
	}
	columns = append(columns,
		export.Column{Header: "Average", Width: 1, Align: "R"},
		export.Column{Header: "Classification", Width: 1.4},
	)

	data := export.Dataset{
		Title:       fmt.Sprintf("Score sheet %s", class.ClassName),
		Subtitle:    fmt.Sprintf("%s, semester %d, %s", subject.SubjectName, req.Semester, req.AcademicYear),
		Columns:     columns,
		Rows:        make([][]string, 0, len(rows)),
		GeneratedAt: s.now(),
	}
	for i, row := range rows {
		byType := map[models.ScoreType][]string{}
		for _, sc := range row.Scores {
			byType[sc.ScoreType] = append(byType[sc.ScoreType], formatScore(sc.Score))
		}
		cells := []string{strconv.Itoa(i + 1), row.StudentCode, row.FullName}
		for _, t := range models.ScoreTypes() {
			cells = append(cells, strings.Join(byType[t], " "))
		}
		average := ""
		if row.Average != nil {
			average = formatScore(*row.Average)
		}
		cells = append(cells, average, string(row.Classification))
		data.Rows = append(data.Rows, cells)
	}

	name := fmt.Sprintf("scores_%s_%s_s%d", class.ClassCode, subject.SubjectCode, req.Semester)
	return s.store(actor, models.ExportKindClassScores, req.Format, name, data)
}

// ExportPayments renders every payment matching the request.
func (s *ExportService) ExportPayments(ctx context.Context, actor models.Actor, req PaymentReportExportRequest) (*models.ExportFile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid export parameters")
	}
	filter := models.PaymentFilter{
		SchoolID: actor.SchoolID,
		FeeID:    req.FeeID,
		ClassID:  req.ClassID,
		Status:   req.Status,
		PageSize: exportPageSize,
	}

	data := export.Dataset{
		Title:    "Payment report",
		Subtitle: paymentReportSubtitle(req),
		Columns: []export.Column{
			{Header: "Student Code", Width: 1.2},
			{Header: "Student Name", Width: 2.4},
			{Header: "Fee", Width: 2.2},
			{Header: "Amount Due", Width: 1.3, Align: "R"},
			{Header: "Discount", Width: 1.1, Align: "R"},
			{Header: "Amount Paid", Width: 1.3, Align: "R"},
			{Header: "Remaining", Width: 1.3, Align: "R"},
			{Header: "Status", Width: 1},
			{Header: "Due Date", Width: 1.2},
			{Header: "Paid Date", Width: 1.2},
		},
		GeneratedAt: s.now(),
	}
	var due, paid, discount, remaining float64
	for page := 1; ; page++ {
		filter.Page = page
		views, pagination, err := s.payments.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			data.Rows = append(data.Rows, []string{
				v.StudentCode,
				v.StudentName,
				v.FeeName,
				formatMoney(v.AmountDue),
				formatMoney(v.Discount),
				formatMoney(v.AmountPaid),
				formatMoney(v.AmountRemaining()),
				string(v.Status),
				formatDate(v.DueDate),
				formatDate(v.PaidDate),
			})
			due += v.AmountDue
			paid += v.AmountPaid
			discount += v.Discount
			remaining += v.AmountRemaining()
		}
		if len(views) == 0 || pagination == nil || page*pagination.PageSize >= pagination.TotalCount {
			break
		}
	}
	data.Rows = append(data.Rows, []string{
		"", "Total", "", formatMoney(due), formatMoney(discount), formatMoney(paid), formatMoney(remaining),
	})

	return s.store(actor, models.ExportKindPayments, req.Format, "payments", data)
}

// Resolve verifies a download token and returns the stored file. Expired or
// forged tokens fail with a precondition error.
func (s *ExportService) Resolve(token string) (*storage.Grant, *os.File, error) {
	grant, err := s.signer.Verify(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "download link has expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "invalid download link")
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found")
	}
	return grant, file, nil
}

// Cleanup removes files older than ttl, defaulting to the configured ResultTTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	deleted, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("export files removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

func (s *ExportService) store(actor models.Actor, kind models.ExportKind, format models.ExportFormat, name string, data export.Dataset) (*models.ExportFile, error) {
	if format == "" {
		format = models.ExportFormatCSV
	}
	var (
		payload []byte
		err     error
	)
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(data)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(data)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", format))
	}
	if err != nil {
		return nil, internal(err, "failed to render export")
	}

	id := uuid.NewString()
	filename := path.Join(sanitizeFilename(actor.SchoolID), fmt.Sprintf("%s_%s_%s.%s",
		sanitizeFilename(name), s.now().UTC().Format("20060102_150405"), id[:8], format))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, internal(err, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(id, actor.SchoolID, relPath)
	if err != nil {
		return nil, internal(err, "failed to sign export url")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	file := &models.ExportFile{
		ID:           id,
		Kind:         kind,
		Format:       format,
		RelativePath: relPath,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Rows:         len(data.Rows),
		ExpiresAt:    expiresAt,
	}
	s.logger.Info("export generated",
		zap.String("export_id", id),
		zap.String("kind", string(kind)),
		zap.String("format", string(format)),
		zap.String("school_id", actor.SchoolID),
		zap.Int("rows", file.Rows),
	)
	return file, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func scoreTypeHeader(t models.ScoreType) string {
	switch t {
	case models.ScoreTypeOral:
		return "Oral"
	case models.ScoreType15Min:
		return "15 min"
	case models.ScoreType1Period:
		return "1 period"
	case models.ScoreTypeMidterm:
		return "Midterm"
	case models.ScoreTypeFinal:
		return "Final"
	}
	return string(t)
}

func paymentReportSubtitle(req PaymentReportExportRequest) string {
	if req.Status == "" {
		return "All statuses"
	}
	return "Status: " + string(req.Status)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
