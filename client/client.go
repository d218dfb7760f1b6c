// Package client wires discovery and transfer into one runtime and exposes
// the commands a host layer drives it with.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/discovery"
	"github.com/Dyastin-0/lanshare/logger"
	"github.com/Dyastin-0/lanshare/transfer"
	"github.com/Dyastin-0/lanshare/types"
	"github.com/google/uuid"
)

var (
	ErrAlreadyStarted = errors.New("client already started")
	ErrClosed         = errors.New("client is shutting down")
)

type Client struct {
	cfg     core.Config
	state   *core.State
	emitter core.Emitter
	log     logger.Logger

	listener *transfer.Listener
	sender   *transfer.Sender

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg core.Config, emitter core.Emitter, log logger.Logger) *Client {
	cfg = cfg.WithDefaults()

	if emitter == nil {
		emitter = core.Discard
	}
	if log == nil {
		log = logger.Nop()
	}

	state := core.NewState(cfg.DownloadDir)

	return &Client{
		cfg:      cfg,
		state:    state,
		emitter:  emitter,
		log:      log,
		listener: transfer.NewListener(state, cfg, emitter, log),
		sender:   transfer.NewSender(state, cfg, emitter, log),
	}
}

// Start generates the instance identity, binds the transfer listener and
// launches the discovery loops and the accept loop. Services stop when ctx
// is done; a service that fails is logged and does not stop the others.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if c.closed {
		return ErrClosed
	}

	broadcast, err := discovery.NewBroadcastTransmitter(c.state, c.cfg, c.log)
	if err != nil {
		return err
	}
	multicast, err := discovery.NewMulticastTransmitter(c.state, c.cfg, c.log)
	if err != nil {
		return err
	}
	receiver, err := discovery.NewReceiver(c.state, c.cfg, c.log)
	if err != nil {
		return err
	}
	cleaner := discovery.NewCleaner(c.state, c.cfg, c.log)

	c.state.SetIdentity(uuid.NewString())

	if err := c.listener.Bind(); err != nil {
		return err
	}

	c.started = true

	c.log.
		WithStr("instance_id", c.state.Identity()).
		WithInt("port", int(c.state.Port())).
		WithStr("hostname", c.cfg.Hostname).
		Info("client started")

	c.run(ctx, "broadcast-transmitter", broadcast.Run)
	c.run(ctx, "multicast-transmitter", multicast.Run)
	c.run(ctx, "discovery-receiver", receiver.Run)
	c.run(ctx, "discovery-cleaner", cleaner.Run)
	c.run(ctx, "transfer-listener", c.listener.Serve)

	return nil
}

func (c *Client) run(ctx context.Context, name string, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.WithStr("service", name).WithErr(err).Error("service stopped")
		}
	}()
}

// Wait blocks until every service and outbound send has returned. Once it
// is called the client accepts no new sends.
func (c *Client) Wait() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
}

// Devices lists the peers currently visible.
func (c *Client) Devices() []types.PeerView {
	return c.state.PublicPeers()
}

// SendFile validates its input and starts the transfer in the background.
// The returned id tags every event of the transfer.
func (c *Client) SendFile(ctx context.Context, ip, path string) (string, error) {
	id := uuid.NewString()
	if err := c.SendFileAs(ctx, id, ip, path); err != nil {
		return "", err
	}
	return id, nil
}

// SendFileAs is SendFile with a caller chosen transfer id, for hosts that
// need to know the id before the first event arrives.
func (c *Client) SendFileAs(ctx context.Context, id, ip, path string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", ip, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sender.Send(ctx, id, addr.Unmap(), path)
	}()

	return nil
}

// RespondToTransferRequest resolves a pending inbound transfer. It reports
// false when the id is unknown or already resolved.
func (c *Client) RespondToTransferRequest(transferID string, accepted bool) bool {
	return c.state.ResolvePending(transferID, accepted)
}

func (c *Client) State() *core.State {
	return c.state
}

func (c *Client) Config() core.Config {
	return c.cfg
}
