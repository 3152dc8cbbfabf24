package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/pkg/database"
	"github.com/noah-isme/sma-school-api/internal/models"
)

// memStore is an in-memory school database shared by the fake repositories.
// fakeTx serialises transactions and restores a snapshot on error, which
// gives the services the same all-or-nothing behaviour as Postgres.
type memStore struct {
	mu        sync.Mutex
	seq       int
	classes   map[string]models.Class
	students  map[string]models.Student
	transfers []models.TransferRecord
	scores    map[string]models.Score
	fees      map[string]models.Fee
	payments  map[string]models.Payment
	counters  map[string]map[models.SchoolCounter]int
	classWS   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		classes:  map[string]models.Class{},
		students: map[string]models.Student{},
		scores:   map[string]models.Score{},
		fees:     map[string]models.Fee{},
		payments: map[string]models.Payment{},
		counters: map[string]map[models.SchoolCounter]int{},
		classWS:  map[string]string{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) snapshot() *memStore {
	cp := newMemStore()
	cp.seq = m.seq
	for k, v := range m.classes {
		cp.classes[k] = v
	}
	for k, v := range m.students {
		cp.students[k] = v
	}
	cp.transfers = append(cp.transfers, m.transfers...)
	for k, v := range m.scores {
		cp.scores[k] = v
	}
	for k, v := range m.fees {
		cp.fees[k] = v
	}
	for k, v := range m.payments {
		cp.payments[k] = v
	}
	for k, v := range m.counters {
		inner := map[models.SchoolCounter]int{}
		for c, n := range v {
			inner[c] = n
		}
		cp.counters[k] = inner
	}
	for k, v := range m.classWS {
		cp.classWS[k] = v
	}
	return cp
}

func (m *memStore) restore(from *memStore) {
	m.seq = from.seq
	m.classes, m.students, m.transfers = from.classes, from.students, from.transfers
	m.scores, m.fees, m.payments = from.scores, from.fees, from.payments
	m.counters, m.classWS = from.counters, from.classWS
}

func (m *memStore) addClass(c models.Class) models.Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.nextID("class")
	}
	if c.Status == "" {
		c.Status = models.ClassStatusActive
	}
	m.classes[c.ID] = c
	return c
}

func (m *memStore) addStudent(st models.Student) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.ID == "" {
		st.ID = m.nextID("student")
	}
	if st.Status == "" {
		st.Status = models.StudentStatusStudying
	}
	m.students[st.ID] = st
	return st
}

func (m *memStore) class(id string) models.Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes[id]
}

func (m *memStore) student(id string) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.students[id]
}

func (m *memStore) counter(schoolID string, c models.SchoolCounter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[schoolID][c]
}

// fakeTx runs fn while holding a global lock.
type fakeTx struct {
	store *memStore
	lock  sync.Mutex
	names []string
}

func (f *fakeTx) WithTransaction(_ context.Context, name string, fn database.TxFunc) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.store.mu.Lock()
	f.names = append(f.names, name)
	saved := f.store.snapshot()
	f.store.mu.Unlock()

	if err := fn(nil); err != nil {
		f.store.mu.Lock()
		f.store.restore(saved)
		f.store.mu.Unlock()
		return err
	}
	return nil
}

type fakeClassRepo struct{ store *memStore }

func (r *fakeClassRepo) List(_ context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.Class{}
	for _, c := range r.store.classes {
		if c.SchoolID != filter.SchoolID {
			continue
		}
		if filter.TeacherID != "" && (c.HomeroomTeacherID == nil || *c.HomeroomTeacherID != filter.TeacherID) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassCode < out[j].ClassCode })
	return out, len(out), nil
}

func (r *fakeClassRepo) FindByID(_ context.Context, _ sqlx.ExtContext, schoolID, id string) (*models.Class, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.classes[id]
	if !ok || c.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (r *fakeClassRepo) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error) {
	return r.FindByID(ctx, exec, schoolID, id)
}

func (r *fakeClassRepo) ExistsByCode(_ context.Context, schoolID, code, excludeID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range r.store.classes {
		if c.SchoolID == schoolID && strings.EqualFold(c.ClassCode, code) && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeClassRepo) Create(_ context.Context, _ sqlx.ExtContext, class *models.Class) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	class.ID = r.store.nextID("class")
	r.store.classes[class.ID] = *class
	return nil
}

func (r *fakeClassRepo) Update(_ context.Context, _ sqlx.ExtContext, class *models.Class) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.classes[class.ID]
	if !ok {
		return sql.ErrNoRows
	}
	class.CurrentStudents = current.CurrentStudents
	r.store.classes[class.ID] = *class
	return nil
}

// AdjustCount refuses to leave the counter outside [0, capacity].
func (r *fakeClassRepo) AdjustCount(_ context.Context, _ sqlx.ExtContext, id string, delta int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.classes[id]
	if !ok {
		return sql.ErrNoRows
	}
	next := c.CurrentStudents + delta
	if next < 0 || next > c.Capacity {
		return sql.ErrNoRows
	}
	c.CurrentStudents = next
	r.store.classes[id] = c
	return nil
}

func (r *fakeClassRepo) Delete(_ context.Context, _ sqlx.ExtContext, schoolID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.classes[id]
	if !ok || c.SchoolID != schoolID {
		return sql.ErrNoRows
	}
	delete(r.store.classes, id)
	return nil
}

func (r *fakeClassRepo) StatisticsByGrade(_ context.Context, schoolID, _ string) ([]models.ClassGradeStats, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byGrade := map[int]*models.ClassGradeStats{}
	total := 0
	for _, c := range r.store.classes {
		if c.SchoolID != schoolID {
			continue
		}
		g := byGrade[c.Grade]
		if g == nil {
			g = &models.ClassGradeStats{Grade: c.Grade}
			byGrade[c.Grade] = g
		}
		g.Classes++
		g.Students += c.CurrentStudents
		g.Capacity += c.Capacity
		total++
	}
	out := []models.ClassGradeStats{}
	for _, g := range byGrade {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Grade < out[j].Grade })
	return out, total, nil
}

type fakeStudentRepo struct{ store *memStore }

func (r *fakeStudentRepo) List(_ context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.Student{}
	for _, st := range r.store.students {
		if st.SchoolID == filter.SchoolID && (filter.Gender == "" || st.Gender == filter.Gender) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentCode < out[j].StudentCode })
	return out, len(out), nil
}

func (r *fakeStudentRepo) FindByID(_ context.Context, _ sqlx.ExtContext, schoolID, id string) (*models.Student, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	st, ok := r.store.students[id]
	if !ok || st.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

func (r *fakeStudentRepo) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error) {
	return r.FindByID(ctx, exec, schoolID, id)
}

func (r *fakeStudentRepo) ExistsByCode(_ context.Context, _ sqlx.ExtContext, schoolID, code, excludeID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, st := range r.store.students {
		if st.SchoolID == schoolID && st.StudentCode == code && st.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeStudentRepo) Create(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	student.ID = r.store.nextID("student")
	r.store.students[student.ID] = *student
	return nil
}

func (r *fakeStudentRepo) Update(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	r.store.students[student.ID] = *student
	return nil
}

func (r *fakeStudentRepo) Delete(_ context.Context, _ sqlx.ExtContext, schoolID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	st, ok := r.store.students[id]
	if !ok || st.SchoolID != schoolID {
		return sql.ErrNoRows
	}
	delete(r.store.students, id)
	return nil
}

func (r *fakeStudentRepo) AppendTransfer(_ context.Context, _ sqlx.ExtContext, record *models.TransferRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	record.ID = r.store.nextID("transfer")
	record.TransferDate = time.Now().UTC()
	r.store.transfers = append(r.store.transfers, *record)
	return nil
}

func (r *fakeStudentRepo) ListTransfers(_ context.Context, studentID string) ([]models.TransferRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.TransferRecord{}
	for _, t := range r.store.transfers {
		if t.StudentID == studentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeStudentRepo) Statistics(_ context.Context, schoolID string) (*models.StudentStatistics, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stats := &models.StudentStatistics{}
	for _, st := range r.store.students {
		if st.SchoolID == schoolID {
			stats.Total++
		}
	}
	return stats, nil
}

func (r *fakeStudentRepo) ListByClass(_ context.Context, schoolID, classID string) ([]models.Student, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.Student{}
	for _, st := range r.store.students {
		if st.SchoolID == schoolID && st.ClassID != nil && *st.ClassID == classID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentCode < out[j].StudentCode })
	return out, nil
}

func (r *fakeStudentRepo) CountByClass(_ context.Context, _ sqlx.ExtContext, classID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for _, st := range r.store.students {
		if st.ClassID != nil && *st.ClassID == classID {
			n++
		}
	}
	return n, nil
}

// fakeWorkspaces keeps one workspace id per class.
type fakeWorkspaces struct {
	store  *memStore
	failOn string
}

func (w *fakeWorkspaces) SyncClassWorkspace(_ context.Context, _ sqlx.ExtContext, class *models.Class) (*models.Workspace, error) {
	if w.failOn != "" && w.failOn == class.ClassCode {
		return nil, fmt.Errorf("workspace store unavailable")
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	id, ok := w.store.classWS[class.ID]
	if !ok {
		id = "ws-" + class.ID
		w.store.classWS[class.ID] = id
	}
	return &models.Workspace{ID: id, SchoolID: class.SchoolID, Name: class.ClassName}, nil
}

func (w *fakeWorkspaces) RemoveClassWorkspace(_ context.Context, _ sqlx.ExtContext, _, classID string) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	delete(w.store.classWS, classID)
	return nil
}

func (w *fakeWorkspaces) EnsureClassWorkspaceID(ctx context.Context, q sqlx.ExtContext, class *models.Class) (string, error) {
	ws, err := w.SyncClassWorkspace(ctx, q, class)
	if err != nil {
		return "", err
	}
	return ws.ID, nil
}

type fakeSchoolCounters struct{ store *memStore }

func (f *fakeSchoolCounters) AdjustCounter(_ context.Context, _ sqlx.ExtContext, schoolID string, counter models.SchoolCounter, delta int) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.counters[schoolID] == nil {
		f.store.counters[schoolID] = map[models.SchoolCounter]int{}
	}
	f.store.counters[schoolID][counter] += delta
	return nil
}

type fakeSubjectSource struct{ subjects map[string]models.Subject }

func (f fakeSubjectSource) FindByID(_ context.Context, schoolID, id string) (*models.Subject, error) {
	s, ok := f.subjects[id]
	if !ok || s.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

type fakeScoreRepo struct{ store *memStore }

func scoreKey(s *models.Score) string {
	return strings.Join([]string{s.SchoolID, s.StudentID, s.ClassID, s.SubjectID, fmt.Sprint(s.Semester), s.AcademicYear, string(s.ScoreType)}, "|")
}

func (r *fakeScoreRepo) FindByKeyForUpdate(_ context.Context, _ sqlx.ExtContext, score *models.Score) (*models.Score, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := scoreKey(score)
	for _, s := range r.store.scores {
		if scoreKey(&s) == key {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeScoreRepo) GetForUpdate(_ context.Context, _ sqlx.ExtContext, schoolID, id string) (*models.Score, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.scores[id]
	if !ok || s.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r *fakeScoreRepo) Create(_ context.Context, _ sqlx.ExtContext, score *models.Score) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	score.ID = r.store.nextID("score")
	r.store.scores[score.ID] = *score
	return nil
}

// UpdateValue matches only unlocked rows.
func (r *fakeScoreRepo) UpdateValue(_ context.Context, _ sqlx.ExtContext, score *models.Score) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.scores[score.ID]
	if !ok || current.IsLocked {
		return sql.ErrNoRows
	}
	current.Score, current.Note, current.TeacherID = score.Score, score.Note, score.TeacherID
	r.store.scores[score.ID] = current
	return nil
}

func (r *fakeScoreRepo) Delete(_ context.Context, _ sqlx.ExtContext, schoolID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.scores[id]
	if !ok || current.SchoolID != schoolID || current.IsLocked {
		return sql.ErrNoRows
	}
	delete(r.store.scores, id)
	return nil
}

func (r *fakeScoreRepo) SetLocked(_ context.Context, _ sqlx.ExtContext, cohort models.ScoreCohort, locked bool, actorID string, ts time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var changed int64
	for id, s := range r.store.scores {
		if s.SchoolID != cohort.SchoolID || s.ClassID != cohort.ClassID || s.SubjectID != cohort.SubjectID ||
			s.Semester != cohort.Semester || s.AcademicYear != cohort.AcademicYear || s.IsLocked == locked {
			continue
		}
		if cohort.ScoreType != "" && s.ScoreType != cohort.ScoreType {
			continue
		}
		s.IsLocked = locked
		if locked {
			s.LockedBy, s.LockedAt = &actorID, &ts
		} else {
			s.LockedBy, s.LockedAt = nil, nil
		}
		r.store.scores[id] = s
		changed++
	}
	return changed, nil
}

func (r *fakeScoreRepo) match(filter models.ScoreFilter) []models.Score {
	out := []models.Score{}
	for _, s := range r.store.scores {
		if s.SchoolID != filter.SchoolID ||
			(filter.StudentID != "" && s.StudentID != filter.StudentID) ||
			(filter.ClassID != "" && s.ClassID != filter.ClassID) ||
			(filter.SubjectID != "" && s.SubjectID != filter.SubjectID) ||
			(filter.Semester != 0 && s.Semester != filter.Semester) ||
			(filter.AcademicYear != "" && s.AcademicYear != filter.AcademicYear) ||
			(filter.ScoreType != "" && s.ScoreType != filter.ScoreType) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeScoreRepo) List(_ context.Context, filter models.ScoreFilter) ([]models.Score, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := r.match(filter)
	return out, len(out), nil
}

func (r *fakeScoreRepo) ListAll(_ context.Context, filter models.ScoreFilter) ([]models.Score, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.match(filter), nil
}

type fakeFeeRepo struct{ store *memStore }

func (r *fakeFeeRepo) List(_ context.Context, filter models.FeeFilter) ([]models.Fee, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.Fee{}
	for _, f := range r.store.fees {
		if f.SchoolID == filter.SchoolID {
			out = append(out, f)
		}
	}
	return out, len(out), nil
}

func (r *fakeFeeRepo) FindByID(_ context.Context, _ sqlx.ExtContext, schoolID, id string) (*models.Fee, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f, ok := r.store.fees[id]
	if !ok || f.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &f, nil
}

func (r *fakeFeeRepo) Create(_ context.Context, fee *models.Fee) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fee.ID = r.store.nextID("fee")
	r.store.fees[fee.ID] = *fee
	return nil
}

func (r *fakeFeeRepo) Update(_ context.Context, fee *models.Fee) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.fees[fee.ID]; !ok {
		return sql.ErrNoRows
	}
	r.store.fees[fee.ID] = *fee
	return nil
}

func (r *fakeFeeRepo) Delete(_ context.Context, schoolID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f, ok := r.store.fees[id]
	if !ok || f.SchoolID != schoolID {
		return sql.ErrNoRows
	}
	delete(r.store.fees, id)
	return nil
}

type fakePaymentRepo struct{ store *memStore }

func (r *fakePaymentRepo) CreateIfAbsent(_ context.Context, _ sqlx.ExtContext, payment *models.Payment) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.payments {
		if p.SchoolID == payment.SchoolID && p.StudentID == payment.StudentID && p.FeeID == payment.FeeID {
			return false, nil
		}
	}
	payment.ID = r.store.nextID("payment")
	r.store.payments[payment.ID] = *payment
	return true, nil
}

func (r *fakePaymentRepo) GetForUpdate(_ context.Context, _ sqlx.ExtContext, schoolID, id string) (*models.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[id]
	if !ok || p.SchoolID != schoolID {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (r *fakePaymentRepo) UpdateBalance(_ context.Context, _ sqlx.ExtContext, payment *models.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[payment.ID]; !ok {
		return sql.ErrNoRows
	}
	r.store.payments[payment.ID] = *payment
	return nil
}

func (r *fakePaymentRepo) Delete(_ context.Context, schoolID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[id]
	if !ok || p.SchoolID != schoolID {
		return sql.ErrNoRows
	}
	delete(r.store.payments, id)
	return nil
}

func (r *fakePaymentRepo) view(p models.Payment) models.PaymentView {
	v := models.PaymentView{Payment: p}
	if f, ok := r.store.fees[p.FeeID]; ok {
		v.FeeName, v.DueDate = f.FeeName, f.DueDate
	}
	if st, ok := r.store.students[p.StudentID]; ok {
		v.StudentCode, v.StudentName = st.StudentCode, st.FullName
	}
	return v
}

func (r *fakePaymentRepo) List(_ context.Context, filter models.PaymentFilter) ([]models.PaymentView, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.PaymentView{}
	for _, p := range r.store.payments {
		if p.SchoolID == filter.SchoolID && (filter.Status == "" || p.Status == filter.Status) {
			out = append(out, r.view(p))
		}
	}
	return out, len(out), nil
}

func (r *fakePaymentRepo) ListByStudent(_ context.Context, schoolID, studentID string) ([]models.PaymentView, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.PaymentView{}
	for _, p := range r.store.payments {
		if p.SchoolID == schoolID && p.StudentID == studentID {
			out = append(out, r.view(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePaymentRepo) ListOverdue(_ context.Context, schoolID string, now time.Time) ([]models.PaymentView, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := []models.PaymentView{}
	for _, p := range r.store.payments {
		v := r.view(p)
		if p.SchoolID == schoolID && p.Status != models.PaymentPaid && v.DueDate != nil && v.DueDate.Before(now) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) TotalsByStatus(_ context.Context, schoolID string) ([]models.StatusTotals, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byStatus := map[models.PaymentStatus]*models.StatusTotals{}
	for _, p := range r.store.payments {
		if p.SchoolID != schoolID {
			continue
		}
		t := byStatus[p.Status]
		if t == nil {
			t = &models.StatusTotals{Status: p.Status}
			byStatus[p.Status] = t
		}
		t.Count++
		t.AmountDue += p.AmountDue
		t.AmountPaid += p.AmountPaid
	}
	out := []models.StatusTotals{}
	for _, t := range byStatus {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (r *fakePaymentRepo) TotalDiscount(_ context.Context, schoolID string) (float64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	total := 0.0
	for _, p := range r.store.payments {
		if p.SchoolID == schoolID {
			total += p.Discount
		}
	}
	return total, nil
}

// auditSpy collects recorded audit entries.
type auditSpy struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *auditSpy) Record(_ context.Context, entry *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func strPtr(v string) *string { return &v }
