package rterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapAndIs(t *testing.T) {
	base := errors.New("slot busy")
	err := New("devicecache", KindResourceExhaustion, "fetch", base)

	require.ErrorIs(t, err, base)
	assert.True(t, Is(err, KindResourceExhaustion))
	assert.False(t, Is(err, KindInvariant))
	assert.Contains(t, err.Error(), "devicecache")
	assert.Contains(t, err.Error(), "fetch")
}

func TestFatalInvokesHook(t *testing.T) {
	var captured error
	orig := FatalHook
	defer func() { FatalHook = orig }()
	FatalHook = func(err error) { captured = err }

	Fatal("graph", "pending_deps", errors.New("went negative"))

	require.Error(t, captured)
	assert.True(t, Is(captured, KindInvariant))
}
