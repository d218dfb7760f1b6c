package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"golang.org/x/net/ipv4"
)

type Mode string

const (
	ModeBroadcast Mode = "broadcast"
	ModeMulticast Mode = "multicast"
)

// Transmitter periodically announces this instance to one destination. A
// send failure ends Run; restarting is left to the caller.
type Transmitter struct {
	mode     Mode
	dst      *net.UDPAddr
	state    *core.State
	hostname string
	interval time.Duration
	ttl      int
	log      logger.Logger
}

func NewBroadcastTransmitter(state *core.State, cfg core.Config, log logger.Logger) (*Transmitter, error) {
	return newTransmitter(ModeBroadcast, state, cfg, log)
}

func NewMulticastTransmitter(state *core.State, cfg core.Config, log logger.Logger) (*Transmitter, error) {
	return newTransmitter(ModeMulticast, state, cfg, log)
}

func newTransmitter(mode Mode, state *core.State, cfg core.Config, log logger.Logger) (*Transmitter, error) {
	cfg = cfg.WithDefaults()

	host := cfg.BroadcastAddr
	if mode == ModeMulticast {
		host = cfg.MulticastGroup
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(cfg.DiscoveryPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s destination: %w", mode, err)
	}

	return &Transmitter{
		mode:     mode,
		dst:      dst,
		state:    state,
		hostname: sanitizeHostname(cfg.Hostname),
		interval: cfg.AnnounceInterval,
		ttl:      cfg.MulticastTTL,
		log:      log.WithStr("service", string(mode)+"-transmitter"),
	}, nil
}

func (t *Transmitter) Mode() Mode {
	return t.mode
}

func (t *Transmitter) Destination() *net.UDPAddr {
	return t.dst
}

// Message builds the beacon from the identity and port currently in the state.
func (t *Transmitter) Message() Announcement {
	return Announcement{
		InstanceID: t.state.Identity(),
		Hostname:   t.hostname,
		Port:       t.state.Port(),
	}
}

func (t *Transmitter) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return fmt.Errorf("open %s socket: %w", t.mode, err)
	}
	defer conn.Close()

	if err := t.configure(conn); err != nil {
		return err
	}

	t.log.WithStr("dst", t.dst.String()).Info("announcing")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.announce(conn); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Transmitter) configure(conn *net.UDPConn) error {
	switch t.mode {
	case ModeBroadcast:
		raw, err := conn.SyscallConn()
		if err != nil {
			return err
		}
		if err := setBroadcast(raw); err != nil {
			return fmt.Errorf("enable broadcast: %w", err)
		}

	case ModeMulticast:
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(t.ttl); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
		if err := p.SetMulticastLoopback(true); err != nil {
			return fmt.Errorf("enable multicast loopback: %w", err)
		}
	}

	return nil
}

func (t *Transmitter) announce(conn *net.UDPConn) error {
	_, err := conn.WriteToUDP(t.Message().Encode(), t.dst)
	if err != nil {
		return fmt.Errorf("send %s announcement: %w", t.mode, err)
	}
	return nil
}
