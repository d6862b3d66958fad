package evloop

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := ErrNotFound.withOp("registry.remove")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrExists))
}

func TestError_WrapPreservesCauseChain(t *testing.T) {
	cause := fmt.Errorf("epoll_ctl: no such file or directory")
	err := ErrInvalidArgument.wrap("epoll.add", cause)

	require.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "epoll.add")
}

func TestError_StringTable(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{CodeInvalidArgument, "invalid_argument"},
		{CodeNotFound, "not_found"},
		{CodeExists, "exists"},
		{CodeOutOfMemory, "out_of_memory"},
		{CodePermission, "permission"},
		{CodeBusy, "busy"},
		{CodeTimeout, "timeout"},
		{CodeNoSystemCall, "no_system_call"},
		{Code(99), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.code.String())
	}
}

func TestError_ErrorStringFormatting(t *testing.T) {
	assert.Equal(t, "evloop: busy", ErrBusy.Error())

	withOp := ErrBusy.withOp("destroy")
	assert.Equal(t, "evloop: destroy: busy", withOp.Error())

	wrapped := ErrTimeout.wrap("epoll.wait", errors.New("boom"))
	assert.Equal(t, "evloop: epoll.wait: timeout: boom", wrapped.Error())
}
