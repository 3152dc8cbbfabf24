package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type racingSchoolRepo struct{ *memSchoolRepo }

func (racingSchoolRepo) Create(context.Context, sqlx.ExtContext, *models.School) error {
	return &pq.Error{Code: "23505", Constraint: "schools_school_name_key"}
}

func newSchoolServiceForTest(repo schoolRepository, audit AuditRecorder) *SchoolService {
	tx := &fakeTx{store: newMemStore()}
	return NewSchoolService(repo, &schoolWorkspaceStub{}, tx, nil, audit, nil, nil, SchoolConfig{TrialPeriod: 14 * 24 * time.Hour})
}

func TestGenerateSchoolCode(t *testing.T) {
	code := GenerateSchoolCode("THPT Nguyen Hue")
	assert.Regexp(t, regexp.MustCompile(`^THPTNH\d{3}$`), code)
}

func TestSchoolFindOrCreateByName(t *testing.T) {
	repo := newMemSchoolRepo()
	svc := newSchoolServiceForTest(repo, nil)
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	school, created, err := svc.FindOrCreateByName(context.Background(), nil, "  Riverside High  ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Riverside High", school.SchoolName)
	assert.Equal(t, models.PlanFree, school.SubscriptionPlan)
	assert.Equal(t, now.Add(14*24*time.Hour), school.SubscriptionExpiresAt)
	assert.Equal(t, "VND", school.Settings.Currency)

	again, created, err := svc.FindOrCreateByName(context.Background(), nil, "Riverside High")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, school.ID, again.ID)

	_, _, err = svc.FindOrCreateByName(context.Background(), nil, "ab")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSchoolFindOrCreateConcurrentInsertIsTransient(t *testing.T) {
	svc := newSchoolServiceForTest(racingSchoolRepo{newMemSchoolRepo()}, nil)

	_, _, err := svc.FindOrCreateByName(context.Background(), nil, "Lakeside High")

	require.Error(t, err)
	assert.Equal(t, appErrors.KindTransient, appErrors.KindOf(err))
}

func TestSchoolUpdateSettings(t *testing.T) {
	repo := newMemSchoolRepo()
	audit := &auditSpy{}
	svc := newSchoolServiceForTest(repo, audit)
	school, _, err := svc.FindOrCreateByName(context.Background(), nil, "Hilltop High")
	require.NoError(t, err)
	actor := models.Actor{UserID: "u-1", SchoolID: school.ID, Role: models.RoleAdmin}

	settings := models.DefaultSchoolSettings("USD", "UTC")
	settings.GradesOffered = []string{"10", "13"}
	_, err = svc.UpdateSettings(context.Background(), actor, settings)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	settings.GradesOffered = []string{"10", "11"}
	settings.SemestersPerYear = 9
	_, err = svc.UpdateSettings(context.Background(), actor, settings)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	settings.SemestersPerYear = 2
	updated, err := svc.UpdateSettings(context.Background(), actor, settings)
	require.NoError(t, err)
	assert.Equal(t, "USD", updated.Currency)

	stored, err := svc.GetSettings(context.Background(), school.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11"}, stored.GradesOffered)
	assert.Equal(t, []string{models.AuditActionSettingsUpdate}, audit.actions())

	_, err = svc.GetSettings(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrSchoolNotFound))
}

func TestSchoolSubscriptionChecks(t *testing.T) {
	svc := newSchoolServiceForTest(newMemSchoolRepo(), nil)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	active := &models.School{IsActive: true, SubscriptionExpiresAt: now.Add(72 * time.Hour)}
	expired := &models.School{IsActive: true, SubscriptionExpiresAt: now.Add(-time.Hour)}

	assert.True(t, svc.CheckSubscription(active))
	assert.False(t, svc.CheckSubscription(expired))
	assert.False(t, svc.CheckSubscription(nil))
	assert.Equal(t, 3, svc.RemainingDays(active))
	assert.Equal(t, 0, svc.RemainingDays(nil))
}
