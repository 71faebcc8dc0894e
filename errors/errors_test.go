package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrapPreservesChain(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	// Format with stack trace
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WithDetail(nil, "detail"))
}

func TestIsNotFound(t *testing.T) {
	t.Run("sentinel", func(t *testing.T) {
		assert.True(t, IsNotFound(ErrNotFound))
		assert.True(t, IsNotFound(Wrap(ErrNotFound, "loading template")))
	})

	t.Run("string fallback", func(t *testing.T) {
		assert.True(t, IsNotFound(New("template rt_abc not found")))
	})

	t.Run("negative", func(t *testing.T) {
		assert.False(t, IsNotFound(nil))
		assert.False(t, IsNotFound(New("connection refused")))
		assert.False(t, IsNotFound(ErrDuplicate))
	})
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(ErrDuplicate))
	assert.True(t, IsDuplicate(Wrapf(ErrDuplicate, "job for %s on %s", "rt_1", "2026-03-31")))
	assert.False(t, IsDuplicate(nil))
	assert.False(t, IsDuplicate(ErrNotFound))
}

func TestIsPlanLimit(t *testing.T) {
	err := WithDetail(ErrPlanLimit, "monthly job allowance exhausted")
	assert.True(t, IsPlanLimit(err))
	assert.False(t, IsPlanLimit(ErrInvalidRequest))

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "monthly job allowance exhausted", details[0])
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("tenant %s", "tn_42")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "tn_42")
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrInvalidRequest, ErrDuplicate, ErrPlanLimit, ErrTenantInactive, ErrServiceUnavailable, ErrTimeout}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, Is(a, b), "sentinel %v must not match %v", a, b)
		}
	}
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to open database")
	fmt.Println(err)
	// Output: failed to open database: connection failed
}
