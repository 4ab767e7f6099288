package module_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/module"
)

func TestRegisterAndRun(t *testing.T) {
	var ran bool
	module.Register("test-echo", func(ctx *module.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, module.Run("test-echo", &module.Context{}))
	require.True(t, ran)
	require.Contains(t, module.Names(), "test-echo")
}

func TestRunUnknownModuleErrors(t *testing.T) {
	err := module.Run("does-not-exist", &module.Context{})
	require.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	module.Register("dup-test", func(ctx *module.Context) error { return nil })
	require.Panics(t, func() {
		module.Register("dup-test", func(ctx *module.Context) error { return nil })
	})
}
