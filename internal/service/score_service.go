package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/database"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type scoreRepository interface {
	FindByKeyForUpdate(ctx context.Context, exec sqlx.ExtContext, score *models.Score) (*models.Score, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Score, error)
	Create(ctx context.Context, exec sqlx.ExtContext, score *models.Score) error
	UpdateValue(ctx context.Context, exec sqlx.ExtContext, score *models.Score) error
	Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error
	SetLocked(ctx context.Context, exec sqlx.ExtContext, cohort models.ScoreCohort, locked bool, actorID string, ts time.Time) (int64, error)
	List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error)
	ListAll(ctx context.Context, filter models.ScoreFilter) ([]models.Score, error)
}

type scoreClassSource interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error)
}

type scoreStudentSource interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error)
	ListByClass(ctx context.Context, schoolID, classID string) ([]models.Student, error)
}

type scoreSubjectSource interface {
	FindByID(ctx context.Context, schoolID, id string) (*models.Subject, error)
}

// ScoreEntry is one student's value in a bulk entry.
type ScoreEntry struct {
	StudentID string  `json:"student_id" validate:"required"`
	Score     float64 `json:"score"`
	Note      *string `json:"note,omitempty"`
}

// EnterScoresRequest records one assessment for many students of a class.
type EnterScoresRequest struct {
	ClassID      string           `json:"class_id" validate:"required"`
	SubjectID    string           `json:"subject_id" validate:"required"`
	Semester     int              `json:"semester" validate:"required,oneof=1 2"`
	AcademicYear string           `json:"academic_year" validate:"required"`
	ScoreType    models.ScoreType `json:"score_type" validate:"required"`
	Scores       []ScoreEntry     `json:"scores" validate:"required,min=1,dive"`
}

// UpdateScoreRequest changes a single score.
type UpdateScoreRequest struct {
	Score *float64 `json:"score,omitempty" validate:"omitempty,min=0,max=10"`
	Note  *string  `json:"note,omitempty"`
}

// ClassScoreRow is one student line of a class score sheet.
type ClassScoreRow struct {
	StudentID      string                     `json:"student_id"`
	StudentCode    string                     `json:"student_code"`
	FullName       string                     `json:"full_name"`
	Scores         []models.Score             `json:"scores"`
	Average        *float64                   `json:"average"`
	Classification models.ScoreClassification `json:"classification,omitempty"`
}

// ScoreService manages score entry, locking and academic reports.
type ScoreService struct {
	repo      scoreRepository
	classes   scoreClassSource
	students  scoreStudentSource
	subjects  scoreSubjectSource
	tx        txRunner
	audit     AuditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewScoreService constructs the score service.
func NewScoreService(repo scoreRepository, classes scoreClassSource, students scoreStudentSource, subjects scoreSubjectSource, tx txRunner, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *ScoreService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreService{
		repo:      repo,
		classes:   classes,
		students:  students,
		subjects:  subjects,
		tx:        tx,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Enter writes the scores of one assessment. Entries for students outside
// the class or with out of range values are skipped, as are locked rows.
func (s *ScoreService) Enter(ctx context.Context, actor models.Actor, req EnterScoresRequest) (*models.ScoreEntryResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid score payload")
	}
	if !req.ScoreType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown score type "+string(req.ScoreType))
	}
	if _, err := s.classes.FindByID(ctx, nil, actor.SchoolID, req.ClassID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	if _, err := s.subjects.FindByID(ctx, actor.SchoolID, req.SubjectID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "subject not found", "failed to load subject")
	}
	roster, err := s.students.ListByClass(ctx, actor.SchoolID, req.ClassID)
	if err != nil {
		return nil, internal(err, "failed to load class students")
	}
	enrolled := make(map[string]bool, len(roster))
	for _, st := range roster {
		enrolled[st.ID] = true
	}

	var result models.ScoreEntryResult
	err = s.tx.WithTransaction(ctx, "score.enter", func(tx *sqlx.Tx) error {
		result = models.ScoreEntryResult{}
		for _, entry := range req.Scores {
			if !enrolled[entry.StudentID] || entry.Score < models.ScoreMin || entry.Score > models.ScoreMax {
				result.SkippedInvalid++
				continue
			}
			candidate := &models.Score{
				SchoolID:     actor.SchoolID,
				StudentID:    entry.StudentID,
				ClassID:      req.ClassID,
				SubjectID:    req.SubjectID,
				Semester:     req.Semester,
				AcademicYear: req.AcademicYear,
				ScoreType:    req.ScoreType,
				Score:        entry.Score,
				Coefficient:  req.ScoreType.Coefficient(),
				Note:         entry.Note,
				TeacherID:    actor.UserID,
			}
			existing, err := s.repo.FindByKeyForUpdate(ctx, tx, candidate)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if err := s.repo.Create(ctx, tx, candidate); err != nil {
					if database.IsUniqueViolation(err) {
						// A concurrent entry inserted the row; a fresh attempt updates it.
						return &appErrors.Error{
							Code:    appErrors.ErrConflict.Code,
							Message: "score was created concurrently",
							Status:  appErrors.ErrConflict.Status,
							Kind:    appErrors.KindTransient,
						}
					}
					return internal(err, "failed to create score")
				}
			case err != nil:
				return internal(err, "failed to load score")
			case existing.IsLocked:
				result.SkippedLocked++
				continue
			default:
				existing.Score, existing.Note, existing.TeacherID = entry.Score, entry.Note, actor.UserID
				if err := s.repo.UpdateValue(ctx, tx, existing); err != nil {
					if errors.Is(err, sql.ErrNoRows) {
						result.SkippedLocked++
						continue
					}
					return internal(err, "failed to update score")
				}
			}
			result.Entered++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionScoreEnter,
		ResourceType: "score",
		Metadata: map[string]interface{}{
			"class_id":        req.ClassID,
			"subject_id":      req.SubjectID,
			"semester":        req.Semester,
			"academic_year":   req.AcademicYear,
			"score_type":      req.ScoreType,
			"entered":         result.Entered,
			"skipped_invalid": result.SkippedInvalid,
			"skipped_locked":  result.SkippedLocked,
		},
	})
	return &result, nil
}

// Update changes the value or note of an unlocked score.
func (s *ScoreService) Update(ctx context.Context, actor models.Actor, id string, req UpdateScoreRequest) (*models.Score, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid score payload")
	}

	var before, score *models.Score
	err := s.tx.WithTransaction(ctx, "score.update", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "score not found", "failed to load score")
		}
		if current.IsLocked {
			return appErrors.ErrScoreLocked
		}
		snapshot := *current
		before = &snapshot
		if req.Score != nil {
			current.Score = *req.Score
		}
		if req.Note != nil {
			current.Note = req.Note
		}
		current.TeacherID = actor.UserID
		if err := s.repo.UpdateValue(ctx, tx, current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrScoreLocked
			}
			return internal(err, "failed to update score")
		}
		score = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionScoreUpdate, ResourceType: "score", ResourceID: score.ID, OldData: before, NewData: score})
	return score, nil
}

// Delete removes an unlocked score.
func (s *ScoreService) Delete(ctx context.Context, actor models.Actor, id string) error {
	var removed *models.Score
	err := s.tx.WithTransaction(ctx, "score.delete", func(tx *sqlx.Tx) error {
		score, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "score not found", "failed to load score")
		}
		if score.IsLocked {
			return appErrors.ErrScoreLocked
		}
		if err := s.repo.Delete(ctx, tx, actor.SchoolID, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrScoreLocked
			}
			return internal(err, "failed to delete score")
		}
		removed = score
		return nil
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionScoreDelete, ResourceType: "score", ResourceID: id, OldData: removed})
	return nil
}

// Lock freezes every unlocked score of the cohort and returns how many changed.
func (s *ScoreService) Lock(ctx context.Context, actor models.Actor, cohort models.ScoreCohort) (int64, error) {
	return s.setLocked(ctx, actor, cohort, true)
}

// Unlock releases every locked score of the cohort.
func (s *ScoreService) Unlock(ctx context.Context, actor models.Actor, cohort models.ScoreCohort) (int64, error) {
	return s.setLocked(ctx, actor, cohort, false)
}

func (s *ScoreService) setLocked(ctx context.Context, actor models.Actor, cohort models.ScoreCohort, locked bool) (int64, error) {
	if err := s.validator.Struct(cohort); err != nil {
		return 0, validationError(err, "invalid score cohort")
	}
	if cohort.ScoreType != "" && !cohort.ScoreType.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "unknown score type "+string(cohort.ScoreType))
	}
	cohort.SchoolID = actor.SchoolID

	changed, err := s.repo.SetLocked(ctx, nil, cohort, locked, actor.UserID, s.now().UTC())
	if err != nil {
		return 0, internal(err, "failed to change score lock")
	}
	if changed == 0 {
		_, total, err := s.repo.List(ctx, models.ScoreFilter{
			SchoolID:     cohort.SchoolID,
			ClassID:      cohort.ClassID,
			SubjectID:    cohort.SubjectID,
			Semester:     cohort.Semester,
			AcademicYear: cohort.AcademicYear,
			ScoreType:    cohort.ScoreType,
			Page:         1,
			PageSize:     1,
		})
		if err != nil {
			return 0, internal(err, "failed to load scores")
		}
		switch {
		case total == 0:
			return 0, appErrors.Clone(appErrors.ErrNotFound, "no scores found for this cohort")
		case locked:
			return 0, appErrors.Clone(appErrors.ErrScoreLocked, "scores of this cohort are already locked")
		default:
			return 0, appErrors.Clone(appErrors.ErrConflict, "scores of this cohort are already unlocked")
		}
	}

	action := models.AuditActionScoreLock
	if !locked {
		action = models.AuditActionScoreUnlock
	}
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       action,
		ResourceType: "score",
		Metadata:     map[string]interface{}{"cohort": cohort, "changed": changed},
	})
	s.logger.Info("score cohort lock changed",
		zap.String("class_id", cohort.ClassID),
		zap.String("subject_id", cohort.SubjectID),
		zap.Bool("locked", locked),
		zap.Int64("changed", changed),
	)
	return changed, nil
}

// List returns scores matching filter.
func (s *ScoreService) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	scores, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list scores")
	}
	pagination.TotalCount = total
	return scores, pagination, nil
}

// ClassScores builds the score sheet of a class for one subject and semester.
func (s *ScoreService) ClassScores(ctx context.Context, schoolID, classID, subjectID string, semester int, academicYear string) ([]ClassScoreRow, error) {
	if _, err := s.classes.FindByID(ctx, nil, schoolID, classID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	roster, err := s.students.ListByClass(ctx, schoolID, classID)
	if err != nil {
		return nil, internal(err, "failed to load class students")
	}
	scores, err := s.repo.ListAll(ctx, models.ScoreFilter{
		SchoolID:     schoolID,
		ClassID:      classID,
		SubjectID:    subjectID,
		Semester:     semester,
		AcademicYear: academicYear,
	})
	if err != nil {
		return nil, internal(err, "failed to load class scores")
	}

	byStudent := make(map[string][]models.Score, len(roster))
	for _, sc := range scores {
		byStudent[sc.StudentID] = append(byStudent[sc.StudentID], sc)
	}
	rows := make([]ClassScoreRow, 0, len(roster))
	for _, st := range roster {
		row := ClassScoreRow{StudentID: st.ID, StudentCode: st.StudentCode, FullName: st.FullName, Scores: byStudent[st.ID]}
		if row.Scores == nil {
			row.Scores = []models.Score{}
		}
		if avg, ok := models.WeightedAverage(row.Scores); ok {
			row.Average = &avg
			row.Classification = models.ClassifyAverage(avg)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Transcript computes a student's subject averages for an academic year.
// A zero semester covers both semesters.
func (s *ScoreService) Transcript(ctx context.Context, schoolID, studentID string, semester int, academicYear string) (*models.Transcript, error) {
	if _, err := s.students.FindByID(ctx, nil, schoolID, studentID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
	}
	scores, err := s.repo.ListAll(ctx, models.ScoreFilter{SchoolID: schoolID, StudentID: studentID, Semester: semester, AcademicYear: academicYear})
	if err != nil {
		return nil, internal(err, "failed to load student scores")
	}
	subjects, err := s.subjectIndex(ctx, schoolID, scores)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		subjectID string
		semester  int
	}
	groups := map[groupKey][]models.Score{}
	var keys []groupKey
	for _, sc := range scores {
		k := groupKey{sc.SubjectID, sc.Semester}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], sc)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].semester != keys[j].semester {
			return keys[i].semester < keys[j].semester
		}
		return subjects[keys[i].subjectID].SubjectName < subjects[keys[j].subjectID].SubjectName
	})

	transcript := &models.Transcript{StudentID: studentID, AcademicYear: academicYear, Subjects: []models.SubjectAverage{}}
	for _, k := range keys {
		avg, ok := models.WeightedAverage(groups[k])
		if !ok {
			continue
		}
		transcript.Subjects = append(transcript.Subjects, models.SubjectAverage{
			SubjectID:      k.subjectID,
			SubjectName:    subjects[k.subjectID].SubjectName,
			Semester:       k.semester,
			Average:        avg,
			Classification: models.ClassifyAverage(avg),
			Scores:         groups[k],
		})
	}
	if overall, ok := overallAverage(transcript.Subjects, subjects); ok {
		transcript.OverallAverage = overall
		transcript.Classification = models.ClassifyAverage(overall)
	}
	return transcript, nil
}

// Ranking orders the studying students of a class by semester average.
// Students without scores are listed last with rank 0.
func (s *ScoreService) Ranking(ctx context.Context, schoolID, classID string, semester int, academicYear string) ([]models.RankingEntry, error) {
	if _, err := s.classes.FindByID(ctx, nil, schoolID, classID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	roster, err := s.students.ListByClass(ctx, schoolID, classID)
	if err != nil {
		return nil, internal(err, "failed to load class students")
	}
	scores, err := s.repo.ListAll(ctx, models.ScoreFilter{SchoolID: schoolID, ClassID: classID, Semester: semester, AcademicYear: academicYear})
	if err != nil {
		return nil, internal(err, "failed to load class scores")
	}
	subjects, err := s.subjectIndex(ctx, schoolID, scores)
	if err != nil {
		return nil, err
	}

	perStudent := map[string]map[string][]models.Score{}
	for _, sc := range scores {
		if perStudent[sc.StudentID] == nil {
			perStudent[sc.StudentID] = map[string][]models.Score{}
		}
		perStudent[sc.StudentID][sc.SubjectID] = append(perStudent[sc.StudentID][sc.SubjectID], sc)
	}

	entries := make([]models.RankingEntry, 0, len(roster))
	ranked := make(map[string]bool, len(roster))
	for _, st := range roster {
		if st.Status != models.StudentStatusStudying {
			continue
		}
		entry := models.RankingEntry{StudentID: st.ID, StudentCode: st.StudentCode, FullName: st.FullName}
		var averages []models.SubjectAverage
		for subjectID, group := range perStudent[st.ID] {
			if avg, ok := models.WeightedAverage(group); ok {
				averages = append(averages, models.SubjectAverage{SubjectID: subjectID, Average: avg})
			}
		}
		if avg, ok := overallAverage(averages, subjects); ok {
			entry.Average = avg
			entry.Classification = models.ClassifyAverage(avg)
			ranked[st.ID] = true
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := ranked[entries[i].StudentID], ranked[entries[j].StudentID]
		if ri != rj {
			return ri
		}
		return entries[i].Average > entries[j].Average
	})
	for i := range entries {
		if ranked[entries[i].StudentID] {
			entries[i].Rank = i + 1
		}
	}
	return entries, nil
}

// Statistics summarises raw score values matching filter.
func (s *ScoreService) Statistics(ctx context.Context, filter models.ScoreFilter) (*models.ScoreStatistics, error) {
	scores, err := s.repo.ListAll(ctx, filter)
	if err != nil {
		return nil, internal(err, "failed to load scores")
	}
	stats := &models.ScoreStatistics{ByClassification: map[models.ScoreClassification]int{}}
	if len(scores) == 0 {
		return stats, nil
	}
	stats.Lowest = models.ScoreMax
	var sum float64
	for _, sc := range scores {
		sum += sc.Score
		stats.Highest = math.Max(stats.Highest, sc.Score)
		stats.Lowest = math.Min(stats.Lowest, sc.Score)
		stats.ByClassification[models.ClassifyAverage(sc.Score)]++
	}
	stats.Count = len(scores)
	stats.Average = math.Round(sum/float64(len(scores))*10) / 10
	return stats, nil
}

func (s *ScoreService) subjectIndex(ctx context.Context, schoolID string, scores []models.Score) (map[string]models.Subject, error) {
	index := map[string]models.Subject{}
	for _, sc := range scores {
		if _, ok := index[sc.SubjectID]; ok {
			continue
		}
		subject, err := s.subjects.FindByID(ctx, schoolID, sc.SubjectID)
		if errors.Is(err, sql.ErrNoRows) {
			index[sc.SubjectID] = models.Subject{ID: sc.SubjectID, Coefficient: 1}
			continue
		}
		if err != nil {
			return nil, internal(err, "failed to load subject")
		}
		index[sc.SubjectID] = *subject
	}
	return index, nil
}

// overallAverage weights subject averages by subject coefficient.
func overallAverage(averages []models.SubjectAverage, subjects map[string]models.Subject) (float64, bool) {
	var sum, weights float64
	for _, a := range averages {
		coef := subjects[a.SubjectID].Coefficient
		if coef <= 0 {
			coef = 1
		}
		sum += a.Average * coef
		weights += coef
	}
	if weights == 0 {
		return 0, false
	}
	return math.Round(sum/weights*10) / 10, true
}
