package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInfersKind(t *testing.T) {
	assert.Equal(t, KindConflict, ErrClassFull.Kind)
	assert.Equal(t, KindValidation, ErrValidation.Kind)
	assert.Equal(t, KindNotFound, ErrNotFound.Kind)
	assert.Equal(t, KindUnknown, ErrInternal.Kind)
	assert.Equal(t, KindUnknown, ErrForbidden.Kind)
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("transfer: %w", Clone(ErrClassFull, "target class full"))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, ErrClassFull))
	assert.False(t, Is(err, ErrScoreLocked))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestCloneKeepsOriginal(t *testing.T) {
	clone := Clone(ErrNotFound, "class not found")
	assert.Equal(t, "class not found", clone.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
	assert.Equal(t, "not_found", clone.Kind.String())
}
