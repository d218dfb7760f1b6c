package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"github.com/Dyastin-0/lanshare/types"
	"github.com/google/uuid"
)

const unknownHostname = "Unknown"

// Listener accepts inbound transfers. Every connection is served by its own
// goroutine and fails independently of the others.
type Listener struct {
	state   *core.State
	emitter core.Emitter
	log     logger.Logger

	addr          string
	chunkSize     int
	progressStep  uint64
	acceptUnknown bool

	newID func() string

	ln net.Listener
	wg sync.WaitGroup
}

func NewListener(state *core.State, cfg core.Config, emitter core.Emitter, log logger.Logger) *Listener {
	cfg = cfg.WithDefaults()

	if emitter == nil {
		emitter = core.Discard
	}

	return &Listener{
		state:         state,
		emitter:       emitter,
		log:           log.WithStr("service", "transfer-listener"),
		addr:          cfg.TransferAddr,
		chunkSize:     cfg.ChunkSize,
		progressStep:  cfg.ProgressStep,
		acceptUnknown: cfg.AcceptUnknownPeers,
		newID:         uuid.NewString,
	}
}

// Bind opens the TCP socket and records its port in the shared state so the
// transmitters advertise it.
func (l *Listener) Bind() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}

	l.ln = ln
	l.state.SetPort(uint16(ln.Addr().(*net.TCPAddr).Port))

	return nil
}

func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until ctx is done, then waits for in-flight
// handlers to return.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		if err := l.Bind(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		l.ln.Close()
	})
	defer stop()
	defer l.wg.Wait()

	l.log.WithStr("addr", l.ln.Addr().String()).Info("accepting transfers")

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()

			if err := l.Handle(ctx, conn); err != nil {
				l.log.WithStr("remote", conn.RemoteAddr().String()).WithErr(err).Warn("inbound transfer ended")
			}
		}()
	}
}

// Handle runs the receive side of one connection: header, decision, stream,
// completion. It closes conn before returning.
func (l *Listener) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	remote := remoteAddr(conn)

	hdr, err := ReadHeader(conn)
	if err != nil {
		if core.IsConnReset(err) {
			l.fail("", remote, err)
		}
		return fmt.Errorf("read header: %w", err)
	}

	id := l.newID()
	log := l.log.WithStr("transfer_id", id).WithStr("remote", remote.String())

	name, err := SanitizeFilename(hdr.Filename)
	if err != nil {
		l.fail(id, remote, err)
		writeResponse(conn, ResponseRejected)
		return err
	}

	hostname := unknownHostname
	if peer, ok := l.state.Peer(remote); ok {
		hostname = peer.Hostname
	} else {
		l.emitter.Emit(core.EventPeerUnknown, types.PeerUnknown{
			TransferID: id,
			Address:    remote.String(),
		})

		if !l.acceptUnknown {
			if err := writeResponse(conn, ResponseRejected); err != nil {
				l.fail(id, remote, err)
				return err
			}
			return fmt.Errorf("%w: %s", core.ErrPeerUnknown, remote)
		}
	}

	accepted, err := l.awaitDecision(ctx, id, types.IncomingTransfer{
		TransferID:     id,
		Filename:       name,
		FileSize:       hdr.Size,
		SenderHostname: hostname,
		SenderIP:       remote.String(),
	})
	if err != nil {
		return err
	}

	if !accepted {
		log.Info("transfer rejected")
		if err := writeResponse(conn, ResponseRejected); err != nil {
			l.fail(id, remote, err)
			return err
		}
		return nil
	}

	if err := writeResponse(conn, ResponseAccepted); err != nil {
		l.fail(id, remote, err)
		return err
	}

	path, err := l.receive(conn, id, name, hdr.Size)
	if err != nil {
		l.fail(id, remote, err)
		return err
	}

	if err := writeResponse(conn, ResponseComplete); err != nil {
		l.fail(id, remote, err)
		return err
	}

	log.WithStr("path", path).Info("transfer complete")

	l.emitter.Emit(core.EventTransferComplete, types.TransferComplete{
		TransferID: id,
		Filename:   filepath.Base(path),
		Path:       path,
		Bytes:      hdr.Size,
	})

	return nil
}

// awaitDecision registers the pending entry, announces the offer and blocks
// until it is resolved. A dropped entry reads as a rejection.
func (l *Listener) awaitDecision(ctx context.Context, id string, offer types.IncomingTransfer) (bool, error) {
	decision := core.NewDecision()
	l.state.RegisterPending(id, decision)

	l.emitter.Emit(core.EventIncomingTransfer, offer)

	select {
	case accepted, ok := <-decision:
		return ok && accepted, nil
	case <-ctx.Done():
		l.state.DropPending(id)
		return false, ctx.Err()
	}
}

// receive streams exactly size bytes into a new file in the download
// directory. The file is removed if the stream does not complete.
func (l *Listener) receive(r io.Reader, id, name string, size uint64) (path string, err error) {
	f, path, err := createUnique(l.state.DownloadDir(), name)
	if err != nil {
		return "", err
	}

	defer func() {
		cerr := f.Close()
		if err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	progress := newReporter(l.emitter, core.EventIncomingProgress, id, size, l.progressStep)
	if size == 0 {
		progress.finish()
		return path, nil
	}

	buf := make([]byte, l.chunkSize)
	for progress.Done() < size {
		want := min(uint64(len(buf)), size-progress.Done())

		n, rerr := r.Read(buf[:want])
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return path, fmt.Errorf("write %s: %w", path, werr)
			}
			progress.Add(n)
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) && progress.Done() < size {
				return path, fmt.Errorf("%w: %d of %d bytes", core.ErrPrematureEOF, progress.Done(), size)
			}
			if progress.Done() < size {
				return path, rerr
			}
		}
	}

	return path, nil
}

func (l *Listener) fail(id string, remote netip.Addr, err error) {
	l.emitter.Emit(core.EventIncomingFailed, types.TransferFailed{
		TransferID: id,
		Address:    remote.String(),
		Reason:     err.Error(),
		Reset:      core.IsConnReset(err),
	})
}

// createUnique creates name in dir, adding " (n)" before the extension while
// the name is taken.
func createUnique(dir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}

		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
}

func writeResponse(w io.Writer, b byte) error {
	if _, err := w.Write([]byte{b}); err != nil {
		return fmt.Errorf("write response %#x: %w", b, err)
	}
	return nil
}

func remoteAddr(conn net.Conn) netip.Addr {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap()
	}

	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}
