package cui

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/Dyastin-0/lanshare/client"
	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/styles"
	"github.com/Dyastin-0/lanshare/types"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// start builds the client for cmd with cui as its emitter and starts it.
func start(ctx context.Context, cmd *cli.Command, autoAccept bool) (*ClientUI, *client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	cui := New(os.Stdout, autoAccept)
	c := client.New(cfg, cui, newLogger(cmd))
	cui.Attach(c)

	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}

	return cui, c, nil
}

func listenAction(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cui, c, err := start(ctx, cmd, cmd.Bool("yes"))
	if err != nil {
		return err
	}

	cfg := c.Config()
	fmt.Println(styles.TITLE.Render("lanshare"), styles.SUCCESS.Render(fmt.Sprintf("as %s on port %d", cfg.Hostname, c.State().Port())))
	fmt.Println(styles.INFO.Render(fmt.Sprintf("listening for files. they will be saved at %s", cfg.DownloadDir)))

	cui.promptLoop(ctx)

	cancel()
	c.Wait()
	cui.progress.Wait()

	return nil
}

// promptLoop asks about one offer at a time until ctx is done.
func (cui *ClientUI) promptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case offer := <-cui.offers:
			accepted, err := cui.confirm(ctx, offer)
			if err != nil {
				accepted = false
			}

			if !cui.client.RespondToTransferRequest(offer.TransferID, accepted) {
				cui.println(styles.INFO.Render(fmt.Sprintf("offer for %s is no longer pending", offer.Filename)))
				continue
			}

			if !accepted {
				cui.println(styles.INFO.Render(fmt.Sprintf("rejected %s", offer.Filename)))
			}
		}
	}
}

func (cui *ClientUI) confirm(ctx context.Context, offer types.IncomingTransfer) (bool, error) {
	var accepted bool

	title := fmt.Sprintf("%s (%s) wants to send %s (%s). accept?",
		offer.SenderHostname, offer.SenderIP, offer.Filename, humanize.Bytes(offer.FileSize))

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("yes").
				Negative("no").
				Value(&accepted),
		),
	).RunWithContext(ctx)

	return accepted, err
}

func peersAction(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_, c, err := start(ctx, cmd, false)
	if err != nil {
		return err
	}

	wait := cmd.Duration("wait")

	err = spinner.New().
		Title(fmt.Sprintf("listening for devices (%s)...", wait)).
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				return nil
			}
		}).
		Run()

	devices := c.Devices()

	cancel()
	c.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if len(devices) == 0 {
		fmt.Println(styles.INFO.Render("no devices found"))
		return nil
	}

	fmt.Println(peersTable(devices))
	return nil
}

func peersTable(devices []types.PeerView) string {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.Hostname, d.IP})
	}
	return styles.Table([]string{"HOSTNAME", "IP"}, rows)
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cui, c, err := start(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		c.Wait()
		cui.progress.Wait()
	}()

	path := cmd.Args().First()
	if path == "" {
		if path, err = selectFile(ctx); err != nil {
			return err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	to, err := resolveTarget(ctx, c, cmd.String("to"), cmd.Duration("wait"))
	if err != nil {
		return err
	}

	id, err := cui.send(ctx, to.String(), path, uint64(info.Size()))
	if err != nil {
		return err
	}

	peer, _ := c.State().Peer(to)

	err = spinner.New().
		Title(fmt.Sprintf("waiting for %s to accept %s (%s)...", peer.Hostname, filepath.Base(path), humanize.Bytes(uint64(info.Size())))).
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			return cui.awaitStart(ctx, id)
		}).
		Run()
	if err != nil {
		return err
	}

	if err := cui.awaitResult(ctx, id); err != nil {
		if errors.Is(err, core.ErrRejected) {
			return fmt.Errorf("%s rejected %s", peer.Hostname, filepath.Base(path))
		}
		return err
	}

	fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("sent %s to %s (%s)", filepath.Base(path), peer.Hostname, to)))
	return nil
}

// send registers the bar label and size of a new transfer before starting
// it, so the first progress event already finds them.
func (cui *ClientUI) send(ctx context.Context, to, path string, size uint64) (string, error) {
	id := uuid.NewString()
	cui.remember(id, filepath.Base(path), size)

	if err := cui.client.SendFileAs(ctx, id, to, path); err != nil {
		cui.forget(id)
		return "", err
	}

	return id, nil
}

// resolveTarget parses the --to address and waits for it to be discovered.
// Without one, the user picks from whatever is discovered within wait.
func resolveTarget(ctx context.Context, c *client.Client, to string, wait time.Duration) (netip.Addr, error) {
	if to == "" {
		err := spinner.New().
			Title(fmt.Sprintf("listening for devices (%s)...", wait)).
			Context(ctx).
			ActionWithErr(func(ctx context.Context) error {
				return awaitAnyPeer(ctx, c, wait)
			}).
			Run()
		if err != nil {
			return netip.Addr{}, err
		}

		if to, err = selectPeer(ctx, c.Devices()); err != nil {
			return netip.Addr{}, err
		}
	}

	addr, err := netip.ParseAddr(to)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", to, err)
	}
	addr = addr.Unmap()

	err = spinner.New().
		Title(fmt.Sprintf("looking for %s...", addr)).
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			return awaitPeer(ctx, c, addr, wait)
		}).
		Run()

	return addr, err
}

// awaitAnyPeer returns once at least one device is known or wait elapses.
func awaitAnyPeer(ctx context.Context, c *client.Client, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for len(c.Devices()) == 0 {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrNoPeers
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// awaitPeer polls the registry until addr is discovered or timeout elapses.
func awaitPeer(ctx context.Context, c *client.Client, addr netip.Addr, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, ok := c.State().Peer(addr); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s was not discovered within %s", addr, timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
