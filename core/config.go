package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDiscoveryPort is the UDP port beacons are sent to and received on.
	DefaultDiscoveryPort = 53029
	// DefaultMulticastGroup is the group the multicast transmitter targets.
	DefaultMulticastGroup = "239.255.77.77"
	// DefaultBroadcastAddr is the destination of the broadcast transmitter.
	DefaultBroadcastAddr = "255.255.255.255"
	// DefaultMulticastTTL keeps multicast beacons on the local link.
	DefaultMulticastTTL = 1
	// DefaultAnnounceInterval is the period of both transmitters.
	DefaultAnnounceInterval = 2 * time.Second
	// DefaultCleanupInterval is the period of the cleaner.
	DefaultCleanupInterval = 2 * time.Second
	// DefaultStaleAfter is the silence after which a peer is evicted.
	DefaultStaleAfter = 6 * time.Second
	// DefaultTransferAddr binds the transfer listener on an ephemeral port.
	DefaultTransferAddr = ":0"
	// DefaultChunkSize is the socket and file buffer size used while streaming.
	DefaultChunkSize = 1024 * 1024
	// DefaultProgressStep is the number of bytes between progress events.
	DefaultProgressStep = 1024 * 1024
	// DefaultDialTimeout bounds the outbound connect.
	DefaultDialTimeout = 10 * time.Second
)

// Config carries every tunable of the runtime. Zero values fall back to the
// defaults above.
type Config struct {
	DiscoveryPort    int           `yaml:"discovery_port"`
	MulticastGroup   string        `yaml:"multicast_group"`
	BroadcastAddr    string        `yaml:"broadcast_addr"`
	MulticastTTL     int           `yaml:"multicast_ttl"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`

	TransferAddr string        `yaml:"transfer_addr"`
	ChunkSize    int           `yaml:"chunk_size"`
	ProgressStep uint64        `yaml:"progress_step"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`

	DownloadDir string `yaml:"download_dir"`
	Hostname    string `yaml:"hostname"`

	// AcceptUnknownPeers lets inbound transfers from addresses missing in the
	// peer registry reach the decision step under the hostname "Unknown".
	AcceptUnknownPeers bool `yaml:"accept_unknown_peers"`
}

func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with every unset field filled in.
func (c Config) WithDefaults() Config {
	out := c

	if out.DiscoveryPort <= 0 {
		out.DiscoveryPort = DefaultDiscoveryPort
	}
	if out.MulticastGroup == "" {
		out.MulticastGroup = DefaultMulticastGroup
	}
	if out.BroadcastAddr == "" {
		out.BroadcastAddr = DefaultBroadcastAddr
	}
	if out.MulticastTTL <= 0 {
		out.MulticastTTL = DefaultMulticastTTL
	}
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = DefaultAnnounceInterval
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = DefaultCleanupInterval
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.TransferAddr == "" {
		out.TransferAddr = DefaultTransferAddr
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ProgressStep == 0 {
		out.ProgressStep = DefaultProgressStep
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.DownloadDir == "" {
		out.DownloadDir = DefaultDownloadDir()
	}
	if strings.TrimSpace(out.Hostname) == "" {
		out.Hostname = Hostname()
	}

	return out
}

// LoadConfig overlays the YAML file at path on the defaults. A missing file
// is not an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg.WithDefaults(), nil
}

// DefaultDownloadDir returns the user's Downloads folder, or the working
// directory when it cannot be determined.
func DefaultDownloadDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dir := filepath.Join(home, "Downloads")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	return cwd
}

func Hostname() string {
	hn, err := os.Hostname()
	if err != nil || hn == "" {
		return "Unknown"
	}

	return hn
}
