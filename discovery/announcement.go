package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Dyastin-0/lanshare/core"
)

const (
	// AnnouncementTag prefixes every beacon.
	AnnouncementTag = "HERE"

	unknownHostname = "Unknown"
	invalidPayload  = "<invalid>"
)

// Announcement is the beacon HERE:<instance_id>:<hostname>:<tcp_port>.
type Announcement struct {
	InstanceID string
	Hostname   string
	Port       uint16
}

func (a Announcement) Encode() []byte {
	return fmt.Appendf(nil, "%s:%s:%s:%d", AnnouncementTag, a.InstanceID, a.Hostname, a.Port)
}

func (a Announcement) String() string {
	return string(a.Encode())
}

// ParseAnnouncement validates a datagram. Bytes that are not UTF-8 are
// replaced by a placeholder, which then fails validation.
func ParseAnnouncement(b []byte) (Announcement, error) {
	msg := string(b)
	if !utf8.ValidString(msg) {
		msg = invalidPayload
	}

	parts := strings.Split(msg, ":")
	if len(parts) != 4 || parts[0] != AnnouncementTag {
		return Announcement{}, core.ErrMalformedAnnouncement
	}

	port, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return Announcement{}, fmt.Errorf("%w: port %q", core.ErrMalformedAnnouncement, parts[3])
	}

	hostname := parts[2]
	if hostname == "" {
		hostname = unknownHostname
	}

	return Announcement{
		InstanceID: parts[1],
		Hostname:   hostname,
		Port:       uint16(port),
	}, nil
}

// sanitizeHostname keeps the four field layout intact.
func sanitizeHostname(hn string) string {
	hn = strings.TrimSpace(strings.ReplaceAll(hn, ":", "-"))
	if hn == "" {
		return unknownHostname
	}
	return hn
}
