package chaterr

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
		{"forbidden", ErrForbidden, KindForbidden},
		{"wrapped not found", fmt.Errorf("%w: message 4", ErrNotFound), KindNotFound},
		{"invalid reference", fmt.Errorf("%w: reply target", ErrInvalidReference), KindInvalidReference},
		{"already deleted", ErrAlreadyDeleted, KindAlreadyDeleted},
		{"invariant", fmt.Errorf("%w: direct room", ErrInvariantViolation), KindInvariantViolation},
		{"rate limited", ErrRateLimited, KindRateLimited},
		{"transport", fmt.Errorf("%w: queue full", ErrTransportFailure), KindTransportFailure},
		{"invalid action", ErrInvalidAction, KindInvalidAction},
		{"unknown", errors.New("connection refused"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestReasonHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "internal error", Reason(errors.New("pq: relation does not exist")))
	assert.Equal(t, "forbidden: only the sender may edit", Reason(fmt.Errorf("%w: only the sender may edit", ErrForbidden)))
}
