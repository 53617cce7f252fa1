//go:build !windows

package rlimit

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger []string

func (l *testLogger) Printf(format string, v ...interface{}) {
	*l = append(*l, fmt.Sprintf(format, v...))
}

func TestRaise(t *testing.T) {
	var before syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &before))

	var log testLogger
	Raise(&log)

	var after syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &after))
	assert.GreaterOrEqual(t, after.Cur, before.Cur)
	assert.Equal(t, before.Max, after.Max)
}
