//go:build linux

package channel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/objcached/objcached/model"
	"github.com/objcached/objcached/wire"
)

// dialAndHandshake connects to addr, sends a Handshake, and returns the
// decoded ack along with the connection for further use.
func dialAndHandshake(t *testing.T, addr string) (net.Conn, wire.HandshakeAck) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.Encode(conn, wire.KindHandshake, nil, nil, 0))
	frame, err := wire.Decode(conn, make([]byte, 4096), make([]byte, 4096))
	require.NoError(t, err)
	require.Equal(t, wire.KindHandshakeAck, frame.Kind)
	ack, err := wire.UnmarshalHandshakeAck(frame.Payload)
	require.NoError(t, err)
	return conn, ack
}

// TestSupervisorAcceptDispatchDetachTerminate drives the I/O supervisor
// end-to-end over a real loopback listener: a client connects, completes a
// handshake, receives an unsolicited Detach frame after AskToDetach, and
// the supervisor's Run loop returns once Terminate is called.
func TestSupervisorAcceptDispatchDetachTerminate(t *testing.T) {
	be := &fakeBackend{}
	ch := New(Config{
		Backend:         be,
		Name:            "cached-test",
		ProtocolVersion: 1,
		MaxObjectSize:   1 << 16,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sup, err := NewSupervisor(ch, []net.Listener{ln}, 1<<16, 0, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run() }()

	conn, ack := dialAndHandshake(t, ln.Addr().String())
	defer conn.Close()
	require.Equal(t, model.StatusOK, ack.Status)
	require.NotZero(t, ack.SessionID)

	require.NoError(t, sup.AskToDetach())
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	frame, err := wire.Decode(conn, make([]byte, 4096), make([]byte, 4096))
	require.NoError(t, err)
	require.Equal(t, wire.KindDetach, frame.Kind)
	require.True(t, be.detachCalled)

	require.NoError(t, sup.Terminate())
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after Terminate")
	}
}

// TestSupervisorRoutesConnectionsThroughWorkerPool exercises the fd-affined
// worker pool path (numWorkers > 0) instead of inline dispatch, verifying a
// request submitted through it still gets a reply.
func TestSupervisorRoutesConnectionsThroughWorkerPool(t *testing.T) {
	be := &fakeBackend{}
	ch := New(Config{
		Backend:         be,
		Name:            "cached-test",
		ProtocolVersion: 1,
		MaxObjectSize:   1 << 16,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sup, err := NewSupervisor(ch, []net.Listener{ln}, 1<<16, 2, nil)
	require.NoError(t, err)
	require.NotNil(t, sup.workers)

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run() }()

	conn, ack := dialAndHandshake(t, ln.Addr().String())
	defer conn.Close()
	require.Equal(t, model.StatusOK, ack.Status)

	require.NoError(t, sup.Terminate())
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after Terminate")
	}
}
