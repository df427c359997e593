package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Classification(t *testing.T) {
	cause := context.DeadlineExceeded
	err := E("search.shard", ErrTimeout, cause)

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "search.shard: timeout: context deadline exceeded", err.Error())

	wrapped := fmt.Errorf("federated query: %w", err)
	assert.Equal(t, ErrTimeout, KindOf(wrapped))

	var appErr *Error
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "search.shard", appErr.Op)
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"kind only", E("platform.Search", ErrPlatformNotRunning, nil), "platform.Search: platform not running"},
		{"cause already wraps kind", E("store.Get", ErrNotFound, fmt.Errorf("%w: store %q", ErrNotFound, "x")), `store.Get: not found: store "x"`},
		{"formatted", Errorf("router.Resolve", ErrRouting, "no rule for %s", "docs"), "router.Resolve: routing failure: no rule for docs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Nil(t, KindOf(nil))
	assert.Nil(t, KindOf(errors.New("plain")))
	assert.Equal(t, ErrRemediation, KindOf(fmt.Errorf("fix: %w", ErrRemediation)))
}
