package relay_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrrelay/pkg/relay"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startTestRelay(t *testing.T) (*relay.Server, *net.UDPAddr, *lockedBuffer) {
	t.Helper()

	out := &lockedBuffer{}
	srv, err := relay.Listen("127.0.0.1:0", relay.WithOutput(out))
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(context.Background())
	}()
	t.Cleanup(func() { _ = srv.Close() })

	return srv, srv.Conn.LocalAddr().(*net.UDPAddr), out
}

func newClient(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IP{127, 0, 0, 1}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readLine(t *testing.T, c *net.UDPConn) string {
	t.Helper()
	buf := make([]byte, 2048)
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := c.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func annotated(c *net.UDPConn, n int, text string) string {
	port := c.LocalAddr().(*net.UDPAddr).Port
	return fmt.Sprintf("\U0001F4E1 ([127.0.0.1]:%d) --%db--> %s\n", port, n, text)
}

func TestRelay_SenderReceivesOwnMessage(t *testing.T) {
	t.Parallel()

	srv, addr, out := startTestRelay(t)
	a := newClient(t)

	_, err := a.WriteToUDP([]byte("hello\n"), addr)
	require.NoError(t, err)

	want := annotated(a, 6, "hello")
	assert.Equal(t, want, readLine(t, a))
	assert.Equal(t, 1, srv.Members.Len())
	assert.Equal(t, want, out.String())
}

func TestRelay_BroadcastToAllMembers(t *testing.T) {
	t.Parallel()

	srv, addr, _ := startTestRelay(t)
	a := newClient(t)
	b := newClient(t)

	_, err := a.WriteToUDP([]byte("hi\n"), addr)
	require.NoError(t, err)
	assert.Equal(t, annotated(a, 3, "hi"), readLine(t, a))

	_, err = b.WriteToUDP([]byte("yo\n"), addr)
	require.NoError(t, err)

	want := annotated(b, 3, "yo")
	assert.Equal(t, want, readLine(t, a))
	assert.Equal(t, want, readLine(t, b))
	assert.Equal(t, 2, srv.Members.Len())
}

func TestRelay_OneByteDatagramIgnored(t *testing.T) {
	t.Parallel()

	srv, addr, out := startTestRelay(t)
	a := newClient(t)

	_, err := a.WriteToUDP([]byte("\n"), addr)
	require.NoError(t, err)

	buf := make([]byte, 64)
	_ = a.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = a.ReadFromUDP(buf)
	assert.Error(t, err)
	assert.Zero(t, srv.Members.Len())
	assert.Empty(t, out.String())
}

func TestRelay_CloseStopsServe(t *testing.T) {
	t.Parallel()

	srv, err := relay.Listen("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, srv.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}
