package netsetup

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterfaceNameDeterministicAndBounded(t *testing.T) {
	a, err := InterfaceName("lithos0", net.ParseIP("10.1.2.3"))
	require.NoError(t, err)
	b, err := InterfaceName("lithos0", net.ParseIP("10.1.2.3"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.LessOrEqual(t, len(a), 15)

	c, err := InterfaceName("lithos0", net.ParseIP("10.1.2.4"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
