package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad_date", "date must be YYYY-MM-DD"), KindValidation},
		{"not found", NotFound("slot_not_found", "slot not found"), KindNotFound},
		{"conflict wrapped", fmt.Errorf("enqueue: %w", Conflict("duplicate", "already waiting")), KindConflict},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("load slot", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal_error", As(err).Code)
}

func TestAsWrapsUnknown(t *testing.T) {
	got := As(errors.New("boom"))
	assert.Equal(t, KindInternal, got.Kind)
}
