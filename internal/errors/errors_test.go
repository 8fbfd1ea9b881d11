package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorTypes(t *testing.T) {
	base := stderrors.New("disk full")

	cases := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"validation", NewValidationError("bad name", nil), IsValidationError, "VALIDATION_ERROR"},
		{"not found", NewNotFoundError("scene missing", nil), IsNotFoundError, "NOT_FOUND"},
		{"directive", NewDirectiveError("bad delta", nil), IsDirectiveError, "DIRECTIVE_ERROR"},
		{"persistence", NewPersistenceError("write failed", base), IsPersistenceError, "PERSISTENCE_ERROR"},
		{"conflict", NewConflictError("busy", nil), IsConflictError, "CONFLICT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, tc.check(wrapped), "type must survive %%w wrapping")

			var appErr *AppError
			require.True(t, stderrors.As(tc.err, &appErr))
			assert.Equal(t, tc.code, appErr.Code)
		})
	}

	assert.ErrorIs(t, NewPersistenceError("write failed", base), base)
	assert.False(t, IsNotFoundError(base))
}

func TestWrapErrorKeepsType(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored", ErrorTypeError))

	inner := NewNotFoundError("scene hub missing", nil)
	wrapped := WrapError(inner, "navigate", ErrorTypeError)
	assert.True(t, IsNotFoundError(wrapped))
	assert.Contains(t, wrapped.Error(), "navigate: scene hub missing")

	plain := WrapError(stderrors.New("boom"), "load", ErrorTypePersistence)
	assert.True(t, IsPersistenceError(plain))
}

func TestConfigurationErrorListsEveryID(t *testing.T) {
	cfgErr := &ConfigurationError{Source: "story.yaml"}
	assert.NoError(t, cfgErr.OrNil())

	cfgErr.Add("intro", "duplicate scene id")
	cfgErr.Add("missing_room", "unlock target of intro/look is not declared")
	cfgErr.Add("intro", "has both choices and auto_advance")

	err := cfgErr.OrNil()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.True(t, IsConfigurationError(fmt.Errorf("startup: %w", err)))
	assert.Equal(t, []string{"intro", "missing_room"}, cfgErr.IDs())
	assert.Contains(t, err.Error(), "story.yaml: 3 problem(s)")
	assert.Contains(t, err.Error(), "missing_room")
}
