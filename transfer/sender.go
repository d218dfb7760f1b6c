package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"github.com/Dyastin-0/lanshare/types"
)

// Sender pushes one local file to one peer per call. Every failed or
// rejected transfer surfaces exactly one terminal event.
type Sender struct {
	state   *core.State
	emitter core.Emitter
	log     logger.Logger

	chunkSize    int
	progressStep uint64
	dialer       net.Dialer
}

func NewSender(state *core.State, cfg core.Config, emitter core.Emitter, log logger.Logger) *Sender {
	cfg = cfg.WithDefaults()

	if emitter == nil {
		emitter = core.Discard
	}

	return &Sender{
		state:        state,
		emitter:      emitter,
		log:          log.WithStr("service", "transfer-sender"),
		chunkSize:    cfg.ChunkSize,
		progressStep: cfg.ProgressStep,
		dialer:       net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Send transfers the file at path to the peer registered at addr.
func (s *Sender) Send(ctx context.Context, id string, addr netip.Addr, path string) error {
	log := s.log.WithStr("transfer_id", id).WithStr("peer", addr.String())

	err := s.send(ctx, id, addr, path)
	switch {
	case err == nil:
		log.Info("transfer complete")
	case errors.Is(err, core.ErrRejected):
		log.Info("transfer rejected")
	default:
		log.WithErr(err).Warn("transfer failed")
		s.emitter.Emit(core.EventOutgoingFailed, types.TransferFailed{
			TransferID: id,
			Address:    addr.String(),
			Reason:     err.Error(),
			Reset:      core.IsConnReset(err),
		})
	}

	return err
}

func (s *Sender) send(ctx context.Context, id string, addr netip.Addr, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	peer, ok := s.state.Peer(addr)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPeerUnknown, addr)
	}

	target := netip.AddrPortFrom(peer.Addr, peer.TCPPort).String()
	conn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	hdr := Header{Filename: filepath.Base(path), Size: uint64(info.Size())}

	return s.Exchange(conn, id, hdr, f)
}

// Exchange runs the protocol over an established connection, streaming
// hdr.Size bytes from src.
func (s *Sender) Exchange(conn io.ReadWriter, id string, hdr Header, src io.Reader) error {
	if err := WriteHeader(conn, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		return fmt.Errorf("await permission: %w", err)
	}

	switch resp {
	case ResponseAccepted:
	case ResponseRejected:
		s.emitter.Emit(core.EventOutgoingRejected, types.TransferAccepted{
			TransferID: id,
			Accepted:   false,
		})
		return core.ErrRejected
	default:
		return fmt.Errorf("%w: unexpected permission byte %#x", core.ErrProtocol, resp)
	}

	if err := s.stream(conn, id, hdr.Size, src); err != nil {
		return err
	}

	resp, err = readResponse(conn)
	if err != nil {
		return fmt.Errorf("await completion: %w", err)
	}
	if resp != ResponseComplete {
		return fmt.Errorf("%w: unexpected completion byte %#x", core.ErrProtocol, resp)
	}

	s.emitter.Emit(core.EventOutgoingComplete, types.TransferComplete{
		TransferID: id,
		Filename:   hdr.Filename,
		Bytes:      hdr.Size,
	})

	return nil
}

func (s *Sender) stream(w io.Writer, id string, size uint64, src io.Reader) error {
	progress := newReporter(s.emitter, core.EventOutgoingProgress, id, size, s.progressStep)
	if size == 0 {
		progress.finish()
		return nil
	}

	buf := make([]byte, s.chunkSize)
	for progress.Done() < size {
		want := min(uint64(len(buf)), size-progress.Done())

		n, rerr := src.Read(buf[:want])
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write payload: %w", err)
			}
			progress.Add(n)
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if progress.Done() < size {
					return fmt.Errorf("%w: sent %d of %d bytes", core.ErrIncompleteTransfer, progress.Done(), size)
				}
				break
			}
			return fmt.Errorf("read file: %w", rerr)
		}
	}

	return nil
}

func readResponse(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
