package gateway

import (
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeBase finds a loopback port whose next few neighbours are probably free.
func freeBase(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestNextAvailablePortSkipsClaims(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := freeBase(t)

	first, err := NextAvailablePort(dir, base, 20)
	require.NoError(t, err)
	defer first.Release()

	second, err := NextAvailablePort(dir, base, 20)
	require.NoError(t, err)
	defer second.Release()

	assert.Greater(t, second.Port, first.Port)

	pid, err := ClaimHolder(dir, first.Port)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// A released claim is reusable.
	require.NoError(t, first.Release())
	again, err := NextAvailablePort(dir, first.Port, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Port, again.Port)
	require.NoError(t, again.Release())
}

func TestNextAvailablePortSkipsBoundPorts(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	_, err = NextAvailablePort(t.TempDir(), busy, 1)
	assert.ErrorIs(t, err, ErrNoPort)
	assert.Contains(t, err.Error(), strconv.Itoa(busy))
}

func TestNextAvailablePortRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NextAvailablePort("", 9001, 1)
	assert.Error(t, err)
}
