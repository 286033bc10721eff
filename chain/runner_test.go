package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSensitiveCommand(t *testing.T) {
	require.True(t, sensitiveCommand([]string{"keys", "add", "w", "--recover"}, "abandon abandon"))
	require.True(t, sensitiveCommand([]string{"keys", "export", "w"}, ""))
	require.True(t, sensitiveCommand([]string{"show", "--mnemonic"}, ""))
	require.False(t, sensitiveCommand([]string{"query", "block"}, ""))
	require.False(t, sensitiveCommand([]string{"keys", "list"}, ""))
}
