package core

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/Dyastin-0/lanshare/types"
)

// State is the runtime state shared by every service. A single mutex guards
// it and no method performs I/O while holding it; callers receive copies.
type State struct {
	mu sync.Mutex

	instanceID  string
	port        uint16
	downloadDir string

	peers   map[netip.Addr]*types.Peer
	pending map[string]chan<- bool

	now func() time.Time
}

func NewState(downloadDir string) *State {
	return &State{
		downloadDir: downloadDir,
		peers:       make(map[netip.Addr]*types.Peer),
		pending:     make(map[string]chan<- bool),
		now:         time.Now,
	}
}

// SetClock replaces the time source used to stamp peers.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// Now returns the current time of the state's clock.
func (s *State) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now()
}

func (s *State) SetIdentity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instanceID = id
}

func (s *State) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.instanceID
}

func (s *State) SetPort(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.port = port
}

func (s *State) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

func (s *State) SetDownloadDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.downloadDir = dir
}

func (s *State) DownloadDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.downloadDir
}

// UpsertPeer inserts or replaces the peer at addr and refreshes its last seen time.
func (s *State) UpsertPeer(addr netip.Addr, hostname string, tcpPort uint16) {
	addr = addr.Unmap()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers[addr] = &types.Peer{
		Addr:     addr,
		Hostname: hostname,
		TCPPort:  tcpPort,
		LastSeen: s.now(),
	}
}

func (s *State) RemovePeer(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, addr.Unmap())
}

// RemovePeerIfStale removes the peer at addr only if it was last seen before
// cutoff, so a refresh racing with the cleaner is never lost.
func (s *State) RemovePeerIfStale(addr netip.Addr, cutoff time.Time) bool {
	addr = addr.Unmap()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[addr]
	if !ok || !p.LastSeen.Before(cutoff) {
		return false
	}

	delete(s.peers, addr)
	return true
}

// Peer returns a copy of the peer registered at addr.
func (s *State) Peer(addr netip.Addr) (types.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[addr.Unmap()]
	if !ok {
		return types.Peer{}, false
	}

	return *p, true
}

// Peers returns a copy of the whole registry.
func (s *State) Peers() map[netip.Addr]types.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make(map[netip.Addr]types.Peer, len(s.peers))
	for addr, p := range s.peers {
		peers[addr] = *p
	}

	return peers
}

// PublicPeers returns address and hostname pairs sorted by hostname, then address.
func (s *State) PublicPeers() []types.PeerView {
	s.mu.Lock()
	views := make([]types.PeerView, 0, len(s.peers))
	for _, p := range s.peers {
		views = append(views, p.View())
	}
	s.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].Hostname == views[j].Hostname {
			return views[i].IP < views[j].IP
		}
		return views[i].Hostname < views[j].Hostname
	})

	return views
}

// NewDecision returns a single-use, single-value decision channel.
func NewDecision() chan bool {
	return make(chan bool, 1)
}

// RegisterPending stores the decision channel for a transfer awaiting a local
// decision. An existing unresolved entry for the same id is dropped first.
func (s *State) RegisterPending(transferID string, decision chan<- bool) {
	s.mu.Lock()
	prev, ok := s.pending[transferID]
	s.pending[transferID] = decision
	s.mu.Unlock()

	if ok {
		close(prev)
	}
}

// ResolvePending removes the pending entry and delivers the decision. It
// reports whether an entry existed; late or duplicate resolutions are no-ops.
func (s *State) ResolvePending(transferID string, accepted bool) bool {
	s.mu.Lock()
	decision, ok := s.pending[transferID]
	delete(s.pending, transferID)
	s.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case decision <- accepted:
	default:
	}
	close(decision)

	return true
}

// DropPending removes the pending entry without a decision. The waiting side
// observes a closed channel, which reads as a rejection.
func (s *State) DropPending(transferID string) bool {
	s.mu.Lock()
	decision, ok := s.pending[transferID]
	delete(s.pending, transferID)
	s.mu.Unlock()

	if ok {
		close(decision)
	}

	return ok
}

func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}
