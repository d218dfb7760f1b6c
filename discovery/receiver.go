package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"golang.org/x/net/ipv4"
)

const maxDatagram = 2048

// Receiver listens for beacons on the discovery port, on one socket that is
// also joined to the multicast group, and upserts the peer registry.
type Receiver struct {
	state *core.State
	port  int
	group net.IP
	log   logger.Logger
}

func NewReceiver(state *core.State, cfg core.Config, log logger.Logger) (*Receiver, error) {
	cfg = cfg.WithDefaults()

	group := net.ParseIP(cfg.MulticastGroup)
	if group == nil || group.To4() == nil {
		return nil, fmt.Errorf("invalid multicast group %q", cfg.MulticastGroup)
	}

	return &Receiver{
		state: state,
		port:  cfg.DiscoveryPort,
		group: group,
		log:   log.WithStr("service", "discovery-receiver"),
	}, nil
}

func (r *Receiver) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: r.port})
	if err != nil {
		return fmt.Errorf("listen discovery port %d: %w", r.port, err)
	}
	defer conn.Close()

	if r.join(conn) == 0 {
		r.log.Warn("could not join multicast group, receiving broadcast only")
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	r.log.WithInt("port", r.port).Info("listening for announcements")

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read discovery datagram: %w", err)
		}

		r.Handle(buf[:n], src.Addr())
	}
}

// join subscribes the socket to the multicast group on every interface that
// supports it and returns how many joins succeeded.
func (r *Receiver) join(conn *net.UDPConn) int {
	p := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: r.group}

	joined := 0

	ifaces, err := net.Interfaces()
	if err != nil {
		r.log.WithErr(err).Debug("list interfaces")
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		if err := p.JoinGroup(&iface, group); err != nil {
			r.log.WithStr("iface", iface.Name).WithErr(err).Debug("join multicast group")
			continue
		}
		joined++
	}

	if joined == 0 {
		if err := p.JoinGroup(nil, group); err == nil {
			joined++
		}
	}

	return joined
}

// Handle validates one datagram and records its sender. It reports whether
// the registry was updated; malformed and self announcements are dropped.
func (r *Receiver) Handle(payload []byte, src netip.Addr) bool {
	a, err := ParseAnnouncement(payload)
	if err != nil {
		return false
	}

	if a.InstanceID == r.state.Identity() {
		return false
	}

	r.state.UpsertPeer(src, a.Hostname, a.Port)
	return true
}
