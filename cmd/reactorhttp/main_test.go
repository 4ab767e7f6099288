package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTokensRecognizesAllThree(t *testing.T) {
	a, err := parseTokens([]string{"config:/etc/reactorhttp.yaml", "module:proxyref", "no_debug_log"})
	require.NoError(t, err)
	require.Equal(t, "/etc/reactorhttp.yaml", a.configPath)
	require.Equal(t, "proxyref", a.moduleName)
	require.True(t, a.noDebugLog)
}

func TestParseTokensRequiresModule(t *testing.T) {
	_, err := parseTokens([]string{"config:/etc/reactorhttp.yaml"})
	require.Error(t, err)
}

func TestParseTokensRejectsUnknownToken(t *testing.T) {
	_, err := parseTokens([]string{"module:proxyref", "garbage"})
	require.Error(t, err)
}

func TestParseTokensDefaultsNoDebugLogFalse(t *testing.T) {
	a, err := parseTokens([]string{"module:proxyref"})
	require.NoError(t, err)
	require.False(t, a.noDebugLog)
	require.Empty(t, a.configPath)
}
