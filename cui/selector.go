package cui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Dyastin-0/lanshare/types"
	"github.com/charmbracelet/huh"
)

const pageSize = 10

var ErrNoPeers = errors.New("no devices discovered")

// selectPeer asks which discovered device to send to.
func selectPeer(ctx context.Context, devices []types.PeerView) (string, error) {
	if len(devices) == 0 {
		return "", ErrNoPeers
	}

	var ip string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("send to").
				Options(peerOptions(devices)...).
				Height(min(len(devices)+2, pageSize)).
				Value(&ip),
		),
	).RunWithContext(ctx)

	return ip, err
}

func peerOptions(devices []types.PeerView) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(devices))
	for _, d := range devices {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", d.Hostname, d.IP), d.IP))
	}
	return options
}

// selectFile asks for a file, starting in the working directory.
func selectFile(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	var path string
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewFilePicker().
				Title("file to send").
				CurrentDirectory(cwd).
				FileAllowed(true).
				DirAllowed(false).
				ShowSize(true).
				Height(pageSize).
				Value(&path),
		),
	).RunWithContext(ctx)

	return path, err
}
