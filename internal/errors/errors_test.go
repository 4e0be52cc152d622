package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorsAggregate(t *testing.T) {
	line0 := Single("quantity", CodeMaxUsesReached, "max uses reached")
	line1 := Single("redemption_code", CodeInvalid, "invalid redemption code")

	all := NewValidationErrors()
	all.Nest("items[0]", line0)
	all.Nest("items[1]", line1)

	require.False(t, all.Empty())
	assert.Equal(t, []string{CodeInvalid, CodeMaxUsesReached}, all.Codes())
	assert.Contains(t, all.Fields, "items[0].quantity")
	assert.Contains(t, all.Fields, "items[1].redemption_code")
	assert.True(t, all.Has(CodeMaxUsesReached))
	assert.False(t, all.Has(CodeNotEnoughTickets))
}

func TestValidationErrorsErrIsNilWhenEmpty(t *testing.T) {
	v := NewValidationErrors()
	assert.NoError(t, v.Err())

	var nilErrs *ValidationErrors
	assert.True(t, nilErrs.Empty())
	assert.NoError(t, nilErrs.Err())
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("update order: %w", ErrConcurrency)
	assert.True(t, IsConcurrency(wrapped))
	assert.False(t, IsValidation(wrapped))

	verr := fmt.Errorf("update quantities: %w", Single("items[0]", CodeNotEnoughTickets, "not enough tickets available"))
	assert.True(t, IsValidation(verr))
	v, ok := AsValidation(verr)
	require.True(t, ok)
	assert.True(t, v.Has(CodeNotEnoughTickets))

	assert.True(t, IsNotFound(NotFound("order", "42")))
	assert.True(t, errors.Is(BusinessProcess("order is not a draft"), ErrBusinessProcess))
}
