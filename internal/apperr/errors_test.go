package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := Wrap(KindOrderCreateFailed, "failed to create order", cause)

	assert.ErrorIs(t, err, ErrOrderCreateFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrOrderUpdateFailed)
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrOrderNotFound)

	assert.Equal(t, KindOrderNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindOrderUpdateFailed, "failed to update order", errors.New("connection reset"))
	assert.Equal(t, "failed to update order: connection reset", err.Error())
	assert.Equal(t, "order not found", ErrOrderNotFound.Error())
}
