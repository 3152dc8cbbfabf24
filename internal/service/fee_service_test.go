package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

func TestFeeCreateForClassRequiresExistingClass(t *testing.T) {
	store := newMemStore()
	class := store.addClass(models.Class{SchoolID: "school-1", ClassCode: "10A1", Grade: 10})
	svc := NewFeeService(&fakeFeeRepo{store: store}, &fakeClassRepo{store: store}, nil, nil)
	actor := models.Actor{SchoolID: "school-1"}

	base := FeeRequest{FeeName: "Trip", FeeType: "activity", Amount: 150000, AppliesTo: models.FeeAppliesClass, AcademicYear: "2024-2025"}
	_, err := svc.Create(context.Background(), actor, base)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	missing := base
	missing.ClassID = strPtr("class-x")
	_, err = svc.Create(context.Background(), actor, missing)
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	ok := base
	ok.ClassID = &class.ID
	fee, err := svc.Create(context.Background(), actor, ok)
	require.NoError(t, err)
	assert.True(t, fee.IsActive)
	assert.Equal(t, class.ID, *fee.ClassID)

	all := base
	all.AppliesTo = ""
	all.ClassID = &class.ID
	fee, err = svc.Create(context.Background(), actor, all)
	require.NoError(t, err)
	assert.Equal(t, models.FeeAppliesAll, fee.AppliesTo)
	assert.Nil(t, fee.ClassID)
}

func TestFeeCreateValidatesAmount(t *testing.T) {
	store := newMemStore()
	svc := NewFeeService(&fakeFeeRepo{store: store}, &fakeClassRepo{store: store}, nil, nil)
	_, err := svc.Create(context.Background(), models.Actor{SchoolID: "school-1"}, FeeRequest{FeeName: "Free", FeeType: "x", AcademicYear: "2024-2025"})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestFeeAppliesToStudent(t *testing.T) {
	classID := "class-1"
	grade11 := &models.Class{ID: classID, Grade: 11}
	cases := []struct {
		name  string
		fee   models.Fee
		class *models.Class
		want  bool
	}{
		{"all without class", models.Fee{AppliesTo: models.FeeAppliesAll}, nil, true},
		{"grade match", models.Fee{AppliesTo: models.FeeAppliesGrade11}, grade11, true},
		{"grade mismatch", models.Fee{AppliesTo: models.FeeAppliesGrade10}, grade11, false},
		{"grade without class", models.Fee{AppliesTo: models.FeeAppliesGrade12}, nil, false},
		{"class match", models.Fee{AppliesTo: models.FeeAppliesClass, ClassID: &classID}, grade11, true},
		{"class mismatch", models.Fee{AppliesTo: models.FeeAppliesClass, ClassID: strPtr("other")}, grade11, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee := tc.fee
			assert.Equal(t, tc.want, FeeAppliesToStudent(&fee, tc.class))
		})
	}
}
