package models

import (
	"math"
	"time"
)

// ScoreType enumerates assessment kinds.
type ScoreType string

const (
	ScoreTypeOral    ScoreType = "oral"
	ScoreType15Min   ScoreType = "15min"
	ScoreType1Period ScoreType = "1period"
	ScoreTypeMidterm ScoreType = "midterm"
	ScoreTypeFinal   ScoreType = "final"
)

// Score value bounds.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

const coefficientAbsent = 0

var scoreCoefficients = map[ScoreType]int{
	ScoreTypeOral:    1,
	ScoreType15Min:   1,
	ScoreType1Period: 2,
	ScoreTypeMidterm: 2,
	ScoreTypeFinal:   3,
}

// Coefficient returns the weight of the score type, 0 when unknown.
func (t ScoreType) Coefficient() int {
	if c, ok := scoreCoefficients[t]; ok {
		return c
	}
	return coefficientAbsent
}

// ScoreTypes lists every assessment kind in ascending weight.
func ScoreTypes() []ScoreType {
	return []ScoreType{ScoreTypeOral, ScoreType15Min, ScoreType1Period, ScoreTypeMidterm, ScoreTypeFinal}
}

// Valid reports whether the score type is known.
func (t ScoreType) Valid() bool {
	return t.Coefficient() != coefficientAbsent
}

// Score is unique by (student, class, subject, semester, academic year, type).
// A locked score keeps its value and note until the cohort is unlocked.
type Score struct {
	ID           string     `db:"id" json:"id"`
	SchoolID     string     `db:"school_id" json:"school_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	ClassID      string     `db:"class_id" json:"class_id"`
	SubjectID    string     `db:"subject_id" json:"subject_id"`
	Semester     int        `db:"semester" json:"semester"`
	AcademicYear string     `db:"academic_year" json:"academic_year"`
	ScoreType    ScoreType  `db:"score_type" json:"score_type"`
	Score        float64    `db:"score" json:"score"`
	Coefficient  int        `db:"coefficient" json:"coefficient"`
	Note         *string    `db:"note" json:"note,omitempty"`
	TeacherID    string     `db:"teacher_id" json:"teacher_id"`
	IsLocked     bool       `db:"is_locked" json:"is_locked"`
	LockedBy     *string    `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt     *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	EnteredAt    time.Time  `db:"entered_at" json:"entered_at"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// ScoreCohort identifies the set of scores locked and unlocked together.
// An empty ScoreType selects every type of the cohort.
type ScoreCohort struct {
	SchoolID     string    `json:"school_id"`
	ClassID      string    `json:"class_id" validate:"required"`
	SubjectID    string    `json:"subject_id" validate:"required"`
	Semester     int       `json:"semester" validate:"required,oneof=1 2"`
	AcademicYear string    `json:"academic_year" validate:"required"`
	ScoreType    ScoreType `json:"score_type,omitempty"`
}

// ScoreFilter defines filter criteria for listing scores.
type ScoreFilter struct {
	SchoolID     string
	StudentID    string
	ClassID      string
	SubjectID    string
	Semester     int
	AcademicYear string
	ScoreType    ScoreType
	Page         int
	PageSize     int
}

// ScoreClassification is the qualitative band of an average.
type ScoreClassification string

const (
	ClassificationExcellent ScoreClassification = "excellent"
	ClassificationVeryGood  ScoreClassification = "very_good"
	ClassificationGood      ScoreClassification = "good"
	ClassificationAverage   ScoreClassification = "average"
	ClassificationWeak      ScoreClassification = "weak"
	ClassificationPoor      ScoreClassification = "poor"
)

// ClassifyAverage returns the band for an average score.
func ClassifyAverage(avg float64) ScoreClassification {
	switch {
	case avg >= 9:
		return ClassificationExcellent
	case avg >= 8:
		return ClassificationVeryGood
	case avg >= 6.5:
		return ClassificationGood
	case avg >= 5:
		return ClassificationAverage
	case avg >= 3.5:
		return ClassificationWeak
	default:
		return ClassificationPoor
	}
}

// WeightedAverage computes the coefficient weighted mean rounded to one
// decimal. ok is false when there is nothing to average.
func WeightedAverage(scores []Score) (avg float64, ok bool) {
	var sum, weights float64
	for _, s := range scores {
		coef := s.Coefficient
		if coef <= 0 {
			coef = s.ScoreType.Coefficient()
		}
		if coef <= 0 {
			continue
		}
		sum += s.Score * float64(coef)
		weights += float64(coef)
	}
	if weights == 0 {
		return 0, false
	}
	return math.Round(sum/weights*10) / 10, true
}

// SubjectAverage is a per-subject result in a transcript.
type SubjectAverage struct {
	SubjectID      string              `json:"subject_id"`
	SubjectName    string              `json:"subject_name,omitempty"`
	Semester       int                 `json:"semester"`
	Average        float64             `json:"average"`
	Classification ScoreClassification `json:"classification"`
	Scores         []Score             `json:"scores"`
}

// Transcript gathers a student's averages for an academic year.
type Transcript struct {
	StudentID      string              `json:"student_id"`
	AcademicYear   string              `json:"academic_year"`
	Subjects       []SubjectAverage    `json:"subjects"`
	OverallAverage float64             `json:"overall_average"`
	Classification ScoreClassification `json:"classification"`
}

// RankingEntry is one row of a class ranking.
type RankingEntry struct {
	Rank           int                 `json:"rank"`
	StudentID      string              `json:"student_id"`
	StudentCode    string              `json:"student_code"`
	FullName       string              `json:"full_name"`
	Average        float64             `json:"average"`
	Classification ScoreClassification `json:"classification"`
}

// ScoreEntryResult summarises a bulk score entry.
type ScoreEntryResult struct {
	Entered        int `json:"entered"`
	SkippedInvalid int `json:"skipped_invalid"`
	SkippedLocked  int `json:"skipped_locked"`
}

// ScoreStatistics summarises a cohort of scores.
type ScoreStatistics struct {
	Count            int                         `json:"count"`
	Average          float64                     `json:"average"`
	Highest          float64                     `json:"highest"`
	Lowest           float64                     `json:"lowest"`
	ByClassification map[ScoreClassification]int `json:"by_classification"`
}
