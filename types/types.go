package types

import (
	"net/netip"
	"time"
)

// Peer is a remote instance discovered through a beacon.
type Peer struct {
	Addr     netip.Addr
	Hostname string
	TCPPort  uint16
	LastSeen time.Time
}

// View returns the display-safe projection of the peer.
func (p Peer) View() PeerView {
	return PeerView{
		IP:       p.Addr.String(),
		Hostname: p.Hostname,
	}
}

type PeerView struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

type IncomingTransfer struct {
	TransferID     string `json:"transferId"`
	Filename       string `json:"filename"`
	FileSize       uint64 `json:"fileSize"`
	SenderHostname string `json:"senderHostname"`
	SenderIP       string `json:"senderIp"`
}

type TransferProgress struct {
	TransferID string  `json:"transferId"`
	Percent    float64 `json:"percent"`
}

type TransferAccepted struct {
	TransferID string `json:"transferId"`
	Accepted   bool   `json:"accepted"`
}

type TransferComplete struct {
	TransferID string `json:"transferId"`
	Filename   string `json:"filename"`
	Path       string `json:"path,omitempty"`
	Bytes      uint64 `json:"bytes"`
}

// TransferFailed is emitted once per failed transfer. Reset is set when the
// remote side reset the connection.
type TransferFailed struct {
	TransferID string `json:"transferId,omitempty"`
	Address    string `json:"address"`
	Reason     string `json:"reason"`
	Reset      bool   `json:"reset"`
}

type PeerUnknown struct {
	TransferID string `json:"transferId"`
	Address    string `json:"address"`
}
