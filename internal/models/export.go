package models

import "time"

// ExportFormat is the rendering of an export file.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportKind names the dataset being exported.
type ExportKind string

const (
	ExportKindClassScores ExportKind = "class_scores"
	ExportKindPayments    ExportKind = "payments"
)

// ExportFile describes a rendered export and its signed download link.
type ExportFile struct {
	ID           string       `json:"id"`
	Kind         ExportKind   `json:"kind"`
	Format       ExportFormat `json:"format"`
	RelativePath string       `json:"-"`
	URL          string       `json:"url"`
	Rows         int          `json:"rows"`
	ExpiresAt    time.Time    `json:"expires_at"`
}
