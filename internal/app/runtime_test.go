package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/roleterms/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
