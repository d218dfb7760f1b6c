package cui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/logger"
	"github.com/Dyastin-0/lanshare/styles"
	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"
)

const Version = "0.1.0"

func NewCLI() *cli.Command {
	return &cli.Command{
		Name:    "lanshare",
		Usage:   "discover devices on your local network and send them files",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file overriding the defaults",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Override the advertised device name",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory to receive files to",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Also print logs to stderr",
			},
		},
		Action: rootAction,
		Commands: []*cli.Command{
			{
				Name:  "listen",
				Usage: "Announce this device and accept incoming files",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Accept every incoming file without asking",
					},
				},
				Action: listenAction,
			},
			{
				Name:  "peers",
				Usage: "List devices announcing on the local network",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "wait",
						Aliases: []string{"w"},
						Usage:   "How long to listen for announcements",
						Value:   3 * time.Second,
					},
				},
				Action: peersAction,
			},
			{
				Name:      "send",
				Usage:     "Send a file to a device",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "to",
						Aliases: []string{"t"},
						Usage:   "IP address of the receiving device, picked interactively when omitted",
					},
					&cli.DurationFlag{
						Name:    "wait",
						Aliases: []string{"w"},
						Usage:   "How long to wait for the device to appear",
						Value:   10 * time.Second,
					},
				},
				Action: sendAction,
			},
		},
	}
}

func rootAction(ctx context.Context, cmd *cli.Command) error {
	figure.NewFigure("lanshare", "", true).Print()
	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

// Run executes the command line and prints any error.
func Run(ctx context.Context, args []string) int {
	if err := NewCLI().Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, styles.ERROR.Render(err.Error()))
		return 1
	}
	return 0
}

// loadConfig applies the global flags on top of the config file.
func loadConfig(cmd *cli.Command) (core.Config, error) {
	cfg, err := core.LoadConfig(cmd.String("config"))
	if err != nil {
		return core.Config{}, err
	}

	if name := cmd.String("name"); name != "" {
		cfg.Hostname = name
	}
	if dir := cmd.String("dir"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return core.Config{}, err
		}
		cfg.DownloadDir = dir
	}

	return cfg, nil
}

func newLogger(cmd *cli.Command) logger.Logger {
	path, err := logger.LogPath("logs")
	if err != nil {
		return logger.New(os.Stderr)
	}

	if cmd.Bool("verbose") {
		return logger.NewMultiWriter(path)
	}
	return logger.NewFile(path)
}
