/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWaitPortAndListeningServer(t *testing.T) {
	var port atomic.Int32
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	go func() {
		time.Sleep(time.Millisecond * 50)
		port.Store(int32(ln.Addr().(*net.TCPAddr).Port))
	}()

	gotPort, err := WaitPortAndListeningServer("127.0.0.1", func() int { return int(port.Load()) }, time.Second*3)
	require.NoError(t, err)
	require.Equal(t, ln.Addr().(*net.TCPAddr).Port, gotPort)
}

func TestWaitListeningServer_Timeout(t *testing.T) {
	addr := GetLocalAddrWithFreeTCPPort()
	require.EqualError(t, WaitListeningServer(addr, time.Millisecond*50),
		"waiting for listening server on "+addr+" timed out")

	_, err := WaitPortAndListeningServer("127.0.0.1", func() int { return 0 }, time.Millisecond*50)
	require.EqualError(t, err, "waiting for listening port timed out")
}
