// Package cui is the terminal front end: it renders client events and turns
// user input into client commands.
package cui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Dyastin-0/lanshare/client"
	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/progress"
	"github.com/Dyastin-0/lanshare/styles"
	"github.com/Dyastin-0/lanshare/types"
	"github.com/dustin/go-humanize"
)

type meta struct {
	label string
	size  uint64
}

// ClientUI implements core.Emitter for a client it drives.
type ClientUI struct {
	client   *client.Client
	progress *progress.Progress
	out      io.Writer

	offers     chan types.IncomingTransfer
	autoAccept bool

	mu      sync.Mutex
	meta    map[string]meta
	started map[string]bool
	results map[string]error
	changed chan struct{}
}

func New(out io.Writer, autoAccept bool) *ClientUI {
	return &ClientUI{
		progress:   progress.New(out),
		out:        out,
		offers:     make(chan types.IncomingTransfer, 16),
		autoAccept: autoAccept,
		meta:       make(map[string]meta),
		started:    make(map[string]bool),
		results:    make(map[string]error),
		changed:    make(chan struct{}),
	}
}

func (cui *ClientUI) Attach(c *client.Client) {
	cui.client = c
}

func (cui *ClientUI) Emit(event string, payload any) {
	switch event {
	case core.EventIncomingTransfer:
		offer := payload.(types.IncomingTransfer)
		cui.remember(offer.TransferID, offer.Filename, offer.FileSize)

		if cui.autoAccept {
			cui.println(styles.INFO.Render(fmt.Sprintf("accepting %s from %s (%s)", offer.Filename, offer.SenderHostname, offer.SenderIP)))
			cui.client.RespondToTransferRequest(offer.TransferID, true)
			return
		}

		select {
		case cui.offers <- offer:
		default:
			cui.println(styles.WARN.Render(fmt.Sprintf("too many pending offers, rejecting %s", offer.Filename)))
			cui.client.RespondToTransferRequest(offer.TransferID, false)
		}

	case core.EventIncomingProgress, core.EventOutgoingProgress:
		p := payload.(types.TransferProgress)
		cui.markStarted(p.TransferID)
		cui.progress.Set(p.TransferID, p.Percent)

	case core.EventTransferComplete:
		done := payload.(types.TransferComplete)
		cui.progress.Complete(done.TransferID)
		cui.println(styles.SUCCESS.Render(fmt.Sprintf("received %s (%s) at %s", done.Filename, humanize.Bytes(done.Bytes), done.Path)))

	case core.EventIncomingFailed:
		failed := payload.(types.TransferFailed)
		cui.progress.Abort(failed.TransferID)
		cui.println(styles.ERROR.Render(failureText("receive from", failed)))

	case core.EventOutgoingComplete:
		done := payload.(types.TransferComplete)
		cui.progress.Complete(done.TransferID)
		cui.finish(done.TransferID, nil)

	case core.EventOutgoingRejected:
		rejected := payload.(types.TransferAccepted)
		cui.finish(rejected.TransferID, core.ErrRejected)

	case core.EventOutgoingFailed:
		failed := payload.(types.TransferFailed)
		cui.progress.Abort(failed.TransferID)
		cui.finish(failed.TransferID, errors.New(failureText("send to", failed)))

	case core.EventPeerUnknown:
		unknown := payload.(types.PeerUnknown)
		cui.println(styles.WARN.Render(fmt.Sprintf("connection from undiscovered address %s", unknown.Address)))
	}
}

func failureText(verb string, f types.TransferFailed) string {
	if f.Reset {
		return fmt.Sprintf("%s %s: connection reset by peer", verb, f.Address)
	}
	return fmt.Sprintf("%s %s failed: %s", verb, f.Address, f.Reason)
}

func (cui *ClientUI) println(s string) {
	fmt.Fprintln(cui.out, s)
}

func (cui *ClientUI) remember(id, label string, size uint64) {
	cui.mu.Lock()
	defer cui.mu.Unlock()

	cui.meta[id] = meta{label: label, size: size}
}

func (cui *ClientUI) forget(id string) {
	cui.mu.Lock()
	defer cui.mu.Unlock()

	delete(cui.meta, id)
}

// markStarted creates the bar of id on its first progress event.
func (cui *ClientUI) markStarted(id string) {
	cui.mu.Lock()
	defer cui.mu.Unlock()

	if cui.started[id] {
		return
	}
	cui.started[id] = true

	m, ok := cui.meta[id]
	if !ok {
		m.label = shortID(id)
	}
	cui.progress.Track(id, int64(m.size), m.label)
	cui.broadcast()
}

func (cui *ClientUI) finish(id string, err error) {
	cui.mu.Lock()
	defer cui.mu.Unlock()

	cui.results[id] = err
	cui.broadcast()
}

// broadcast wakes every waiter. Callers hold mu.
func (cui *ClientUI) broadcast() {
	close(cui.changed)
	cui.changed = make(chan struct{})
}

// waitFor blocks until cond holds for the current state or ctx is done.
func (cui *ClientUI) waitFor(ctx context.Context, cond func() bool) error {
	for {
		cui.mu.Lock()
		ok := cond()
		changed := cui.changed
		cui.mu.Unlock()

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// awaitStart returns once the transfer id streams or ends.
func (cui *ClientUI) awaitStart(ctx context.Context, id string) error {
	return cui.waitFor(ctx, func() bool {
		_, done := cui.results[id]
		return cui.started[id] || done
	})
}

// awaitResult returns the outcome of an outbound transfer.
func (cui *ClientUI) awaitResult(ctx context.Context, id string) error {
	var result error
	err := cui.waitFor(ctx, func() bool {
		res, ok := cui.results[id]
		result = res
		return ok
	})
	if err != nil {
		return err
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
