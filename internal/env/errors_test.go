package env

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "plain", err: errors.New("boom"), want: KindTransportFailure},
		{name: "typed", err: NewError("copy", "n00dles", KindCapacityExceeded, nil), want: KindCapacityExceeded},
		{name: "wrapped", err: fmt.Errorf("dispatch: %w", NewError("exec", "n00dles", KindNotFound, nil)), want: KindNotFound},
		{name: "typed without kind", err: NewError("scan", "x", KindNone, errors.New("eof")), want: KindTransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError("copy", "foodnstuff", KindCapacityExceeded, cause)
	assert.Equal(t, "copy foodnstuff: capacity-exceeded: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestOutcomes(t *testing.T) {
	assert.Equal(t, Outcome{OK: true}, Failed(nil))
	failed := Failed(NewError("nuke", "joesguns", KindInsufficientPrivilege, nil))
	assert.False(t, failed.OK)
	assert.Equal(t, KindInsufficientPrivilege, failed.Kind)
	assert.Equal(t, Outcome{Kind: KindToolUnavailable}, Skipped(KindToolUnavailable))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("scan: %w", ErrFatal)))
	assert.False(t, IsFatal(errors.New("other")))
}
