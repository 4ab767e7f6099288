package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/logging"
)

func TestRotateRenamesToPrevAndReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactorhttp.log")

	l, err := logging.New(path, 0)
	require.NoError(t, err)
	l.Info("first entry")

	require.NoError(t, l.Rotate())
	l.Info("second entry")
	l.Stop()

	prevBytes, err := os.ReadFile(path + ".prev")
	require.NoError(t, err)
	require.Contains(t, string(prevBytes), "first entry")

	curBytes, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(curBytes), "second entry")
	require.NotContains(t, string(curBytes), "first entry")
}

func TestPeriodicRotationFires(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactorhttp.log")

	l, err := logging.New(path, 20*time.Millisecond)
	require.NoError(t, err)
	l.Start()
	defer l.Stop()

	l.Info("before rotation")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".prev")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestLogThrowawayCertWarningWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactorhttp.log")

	l, err := logging.New(path, 0)
	require.NoError(t, err)
	l.LogThrowawayCertWarning()
	l.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "throwaway")
}
