package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"github.com/Dyastin-0/lanshare/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddr("127.0.0.1")

type receiverSide struct {
	state    *core.State
	rec      *recorder
	listener *Listener
	dir      string
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

func startReceiver(t *testing.T, cfg core.Config, knownPeers ...netip.Addr) *receiverSide {
	t.Helper()

	dir := t.TempDir()
	state := core.NewState(dir)
	for _, addr := range knownPeers {
		state.UpsertPeer(addr, "sender-"+addr.String(), 1)
	}

	cfg.TransferAddr = "127.0.0.1:0"
	cfg.Hostname = "receiver"
	cfg.DownloadDir = dir

	rec := newRecorder()
	l := NewListener(state, cfg, rec, logger.Nop())
	require.NoError(t, l.Bind())
	require.Equal(t, uint16(l.Addr().(*net.TCPAddr).Port), state.Port())

	ctx, cancel := context.WithCancel(context.Background())
	rs := &receiverSide{state: state, rec: rec, listener: l, dir: dir, cancel: cancel, done: make(chan struct{})}
	go func() {
		rs.err = l.Serve(ctx)
		close(rs.done)
	}()
	t.Cleanup(rs.stop)

	return rs
}

func (rs *receiverSide) stop() {
	rs.cancel()
	select {
	case <-rs.done:
	case <-time.After(5 * time.Second):
	}
}

func (rs *receiverSide) autoDecide(accept bool) {
	rs.rec.mu.Lock()
	defer rs.rec.mu.Unlock()

	rs.rec.on = func(name string, payload any) {
		if name == core.EventIncomingTransfer {
			rs.state.ResolvePending(payload.(types.IncomingTransfer).TransferID, accept)
		}
	}
}

func newTestSender(t *testing.T, receiverPort uint16) (*Sender, *recorder) {
	t.Helper()

	state := core.NewState(t.TempDir())
	state.UpsertPeer(loopback, "receiver", receiverPort)

	rec := newRecorder()
	return NewSender(state, core.Config{Hostname: "sender"}, rec, logger.Nop()), rec
}

func writeRandomFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))

	return path, data
}

func lastPercent(t *testing.T, events []any) float64 {
	t.Helper()
	require.NotEmpty(t, events)
	return events[len(events)-1].(types.TransferProgress).Percent
}

func TestTransferAccepted(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	src, data := writeRandomFile(t, "payload.bin", 5*1024*1024)

	s, srec := newTestSender(t, rs.state.Port())
	require.NoError(t, s.Send(context.Background(), "out-1", loopback, src))

	done := rs.rec.waitFor(t, core.EventTransferComplete, 1)
	complete := done[0].(types.TransferComplete)
	assert.Equal(t, "payload.bin", complete.Filename)
	assert.Equal(t, uint64(len(data)), complete.Bytes)

	got, err := os.ReadFile(filepath.Join(rs.dir, "payload.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	offer := rs.rec.payloads(core.EventIncomingTransfer)[0].(types.IncomingTransfer)
	assert.Equal(t, "payload.bin", offer.Filename)
	assert.Equal(t, uint64(len(data)), offer.FileSize)
	assert.Equal(t, "127.0.0.1", offer.SenderIP)
	assert.Equal(t, "sender-127.0.0.1", offer.SenderHostname)
	assert.Equal(t, complete.TransferID, offer.TransferID)

	assert.Equal(t, 100.0, lastPercent(t, rs.rec.payloads(core.EventIncomingProgress)))
	assert.Equal(t, 100.0, lastPercent(t, srec.payloads(core.EventOutgoingProgress)))
	assert.GreaterOrEqual(t, srec.count(core.EventOutgoingProgress), 5)

	assert.Equal(t, 1, rs.rec.count(core.EventTransferComplete))
	assert.Equal(t, 1, srec.count(core.EventOutgoingComplete))
	assert.Zero(t, srec.count(core.EventOutgoingFailed))
	assert.Zero(t, rs.rec.count(core.EventIncomingFailed))
	assert.Zero(t, rs.state.PendingCount())
}

func TestTransferRejected(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(false)

	src, _ := writeRandomFile(t, "nope.txt", 1024)

	s, srec := newTestSender(t, rs.state.Port())
	err := s.Send(context.Background(), "out-2", loopback, src)
	require.ErrorIs(t, err, core.ErrRejected)

	rejected := srec.payloads(core.EventOutgoingRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, types.TransferAccepted{TransferID: "out-2", Accepted: false}, rejected[0])
	assert.Zero(t, srec.count(core.EventOutgoingFailed))
	assert.Zero(t, srec.count(core.EventOutgoingComplete))
	assert.Zero(t, srec.count(core.EventOutgoingProgress))

	entries, err := os.ReadDir(rs.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRejectSendsNoPayload(t *testing.T) {
	s := NewSender(core.NewState(""), core.Config{Hostname: "s"}, newRecorder(), logger.Nop())

	client, server := net.Pipe()

	extra := make(chan int, 1)
	go func() {
		defer server.Close()

		_, err := ReadHeader(server)
		if err != nil {
			extra <- -1
			return
		}
		server.Write([]byte{ResponseRejected})

		rest, _ := io.ReadAll(server)
		extra <- len(rest)
	}()

	err := s.Exchange(client, "t", Header{Filename: "f", Size: 10}, bytes.NewReader(make([]byte, 10)))
	client.Close()

	assert.ErrorIs(t, err, core.ErrRejected)
	assert.Equal(t, 0, <-extra)
}

func TestSendShortRead(t *testing.T) {
	rec := newRecorder()
	s := NewSender(core.NewState(""), core.Config{Hostname: "s"}, rec, logger.Nop())

	client, server := net.Pipe()
	go func() {
		defer server.Close()

		if _, err := ReadHeader(server); err != nil {
			return
		}
		server.Write([]byte{ResponseAccepted})
		io.Copy(io.Discard, server)
	}()

	err := s.Exchange(client, "short", Header{Filename: "f", Size: 100}, bytes.NewReader(make([]byte, 40)))
	client.Close()

	assert.ErrorIs(t, err, core.ErrIncompleteTransfer)
	assert.Zero(t, rec.count(core.EventOutgoingComplete))
}

func TestSendProtocolViolation(t *testing.T) {
	tests := []struct {
		name      string
		responses []byte
	}{
		{name: "permission", responses: []byte{0x07}},
		{name: "completion", responses: []byte{ResponseAccepted, ResponseAccepted}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			s := NewSender(core.NewState(""), core.Config{Hostname: "s"}, rec, logger.Nop())

			client, server := net.Pipe()
			go func() {
				defer server.Close()

				hdr, err := ReadHeader(server)
				if err != nil {
					return
				}
				server.Write(tt.responses[:1])
				if len(tt.responses) > 1 {
					io.CopyN(io.Discard, server, int64(hdr.Size))
					server.Write(tt.responses[1:])
				}
			}()

			err := s.Exchange(client, "p", Header{Filename: "f", Size: 3}, bytes.NewReader([]byte("abc")))
			client.Close()

			assert.ErrorIs(t, err, core.ErrProtocol)
			assert.Zero(t, rec.count(core.EventOutgoingComplete))
		})
	}
}

func TestSendUnknownPeer(t *testing.T) {
	rec := newRecorder()
	s := NewSender(core.NewState(""), core.Config{Hostname: "s"}, rec, logger.Nop())
	src, _ := writeRandomFile(t, "a.txt", 10)

	err := s.Send(context.Background(), "u", netip.MustParseAddr("10.9.9.9"), src)
	assert.ErrorIs(t, err, core.ErrPeerUnknown)

	failed := rec.payloads(core.EventOutgoingFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "u", failed[0].(types.TransferFailed).TransferID)
}

func TestSendMissingFile(t *testing.T) {
	rec := newRecorder()
	s := NewSender(core.NewState(""), core.Config{Hostname: "s"}, rec, logger.Nop())

	err := s.Send(context.Background(), "m", loopback, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, rec.count(core.EventOutgoingFailed))
}

func TestTransferEmptyFile(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	src, _ := writeRandomFile(t, "empty.txt", 0)

	s, srec := newTestSender(t, rs.state.Port())
	require.NoError(t, s.Send(context.Background(), "e", loopback, src))

	rs.rec.waitFor(t, core.EventTransferComplete, 1)

	info, err := os.Stat(filepath.Join(rs.dir, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.Equal(t, 100.0, lastPercent(t, srec.payloads(core.EventOutgoingProgress)))
	assert.Equal(t, 100.0, lastPercent(t, rs.rec.payloads(core.EventIncomingProgress)))
}

func TestTransferNameCollision(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)
	require.NoError(t, os.WriteFile(filepath.Join(rs.dir, "notes.txt"), []byte("old"), 0644))

	src, data := writeRandomFile(t, "notes.txt", 64)

	s, _ := newTestSender(t, rs.state.Port())
	require.NoError(t, s.Send(context.Background(), "c", loopback, src))
	rs.rec.waitFor(t, core.EventTransferComplete, 1)

	got, err := os.ReadFile(filepath.Join(rs.dir, "notes (1).txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	old, err := os.ReadFile(filepath.Join(rs.dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), old)
}

func dialFrom(t *testing.T, local string, port uint16) net.Conn {
	t.Helper()

	d := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(local)}}
	conn, err := d.Dial("tcp", netip.AddrPortFrom(loopback, port).String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestConcurrentPendingTransfers(t *testing.T) {
	second := netip.MustParseAddr("127.0.0.2")
	rs := startReceiver(t, core.Config{}, loopback, second)

	connA := dialFrom(t, "127.0.0.1", rs.state.Port())
	connB := dialFrom(t, "127.0.0.2", rs.state.Port())

	require.NoError(t, WriteHeader(connA, Header{Filename: "a.txt", Size: 3}))
	require.NoError(t, WriteHeader(connB, Header{Filename: "b.txt", Size: 3}))

	offers := rs.rec.waitFor(t, core.EventIncomingTransfer, 2)
	require.Equal(t, 2, rs.state.PendingCount())

	ids := map[string]string{}
	for _, o := range offers {
		offer := o.(types.IncomingTransfer)
		ids[offer.SenderIP] = offer.TransferID
	}
	require.Len(t, ids, 2)
	require.NotEqual(t, ids["127.0.0.1"], ids["127.0.0.2"])

	require.True(t, rs.state.ResolvePending(ids["127.0.0.1"], true))
	assert.Equal(t, 1, rs.state.PendingCount())

	resp, err := readResponse(connA)
	require.NoError(t, err)
	assert.Equal(t, ResponseAccepted, resp)

	_, err = connA.Write([]byte("abc"))
	require.NoError(t, err)
	resp, err = readResponse(connA)
	require.NoError(t, err)
	assert.Equal(t, ResponseComplete, resp)

	require.True(t, rs.state.ResolvePending(ids["127.0.0.2"], false))
	resp, err = readResponse(connB)
	require.NoError(t, err)
	assert.Equal(t, ResponseRejected, resp)

	rs.rec.waitFor(t, core.EventTransferComplete, 1)
	_, err = os.Stat(filepath.Join(rs.dir, "a.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(rs.dir, "b.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnknownPeerRejected(t *testing.T) {
	rs := startReceiver(t, core.Config{})

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "x", Size: 1}))

	resp, err := readResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, ResponseRejected, resp)

	unknown := rs.rec.waitFor(t, core.EventPeerUnknown, 1)
	assert.Equal(t, "127.0.0.1", unknown[0].(types.PeerUnknown).Address)
	assert.Zero(t, rs.rec.count(core.EventIncomingTransfer))
	assert.Zero(t, rs.state.PendingCount())
}

func TestUnknownPeerAccepted(t *testing.T) {
	rs := startReceiver(t, core.Config{AcceptUnknownPeers: true})

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "x", Size: 1}))

	offers := rs.rec.waitFor(t, core.EventIncomingTransfer, 1)
	assert.Equal(t, "Unknown", offers[0].(types.IncomingTransfer).SenderHostname)
	assert.Equal(t, 1, rs.rec.count(core.EventPeerUnknown))
}

func TestPrematureEOF(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "cut.bin", Size: 100}))

	resp, err := readResponse(conn)
	require.NoError(t, err)
	require.Equal(t, ResponseAccepted, resp)

	_, err = conn.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	failed := rs.rec.waitFor(t, core.EventIncomingFailed, 1)
	assert.Contains(t, failed[0].(types.TransferFailed).Reason, core.ErrPrematureEOF.Error())
	assert.Zero(t, rs.rec.count(core.EventTransferComplete))

	_, err = os.Stat(filepath.Join(rs.dir, "cut.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShutdownDropsPending(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "w", Size: 1}))
	rs.rec.waitFor(t, core.EventIncomingTransfer, 1)
	require.Equal(t, 1, rs.state.PendingCount())

	rs.cancel()

	select {
	case <-rs.done:
		assert.ErrorIs(t, rs.err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Zero(t, rs.state.PendingCount())
}

func TestTraversalNameStaysInDownloadDir(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "../../escape.txt", Size: 2}))

	resp, err := readResponse(conn)
	require.NoError(t, err)
	require.Equal(t, ResponseAccepted, resp)
	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)

	resp, err = readResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, ResponseComplete, resp)

	_, err = os.Stat(filepath.Join(rs.dir, "escape.txt"))
	assert.NoError(t, err)
}

func TestInvalidFilenameRejectedAndReported(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "..", Size: 1}))

	resp, err := readResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, ResponseRejected, resp)

	failed := rs.rec.waitFor(t, core.EventIncomingFailed, 1)
	assert.Contains(t, failed[0].(types.TransferFailed).Reason, core.ErrInvalidFilename.Error())
	assert.False(t, failed[0].(types.TransferFailed).Reset)
	assert.Zero(t, rs.rec.count(core.EventIncomingTransfer))
	assert.Zero(t, rs.state.PendingCount())
}

func TestSenderResetReportedByReceiver(t *testing.T) {
	rs := startReceiver(t, core.Config{}, loopback)
	rs.autoDecide(true)

	conn := dialFrom(t, "127.0.0.1", rs.state.Port())
	require.NoError(t, WriteHeader(conn, Header{Filename: "reset.bin", Size: 1024 * 1024}))

	resp, err := readResponse(conn)
	require.NoError(t, err)
	require.Equal(t, ResponseAccepted, resp)

	_, err = conn.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	failed := rs.rec.waitFor(t, core.EventIncomingFailed, 1)
	assert.True(t, failed[0].(types.TransferFailed).Reset)
	assert.Equal(t, "127.0.0.1", failed[0].(types.TransferFailed).Address)
	assert.Zero(t, rs.rec.count(core.EventTransferComplete))

	_, err = os.Stat(filepath.Join(rs.dir, "reset.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReceiverResetReportedBySender(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		if _, err := ReadHeader(conn); err != nil {
			conn.Close()
			return
		}
		writeResponse(conn, ResponseAccepted)
		io.ReadFull(conn, make([]byte, 64*1024))

		conn.(*net.TCPConn).SetLinger(0)
		conn.Close()
	}()

	src, _ := writeRandomFile(t, "big.bin", 16*1024*1024)

	s, srec := newTestSender(t, uint16(ln.Addr().(*net.TCPAddr).Port))
	err = s.Send(context.Background(), "out-reset", loopback, src)
	require.Error(t, err)
	assert.True(t, core.IsConnReset(err))

	failed := srec.payloads(core.EventOutgoingFailed)
	require.Len(t, failed, 1)
	assert.True(t, failed[0].(types.TransferFailed).Reset)
	assert.Equal(t, "out-reset", failed[0].(types.TransferFailed).TransferID)
	assert.Zero(t, srec.count(core.EventOutgoingComplete))
	assert.Zero(t, srec.count(core.EventOutgoingRejected))
}
