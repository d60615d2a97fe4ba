package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gl7cryo/gl7ctl/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/gl7ctl.sock"
	configPath     = "/etc/gl7ctl/config.yaml"
)

var (
	gBasic        = "Basic:"
	gOutputs      = "Outputs:"
	gCooldown     = "Cooldown:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gCooldown,
		gOutputs,
		gAdvanced,
		gInstallation,
	}
)

var apiClient *client.Client

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: gl7ctl daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or reinstall the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	} else if errors.Is(err, client.ErrConflict) {
		fmt.Fprintln(os.Stderr, "\nA cooldown is in progress or has nothing waiting. Check 'gl7ctl cooldown status'.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gl7ctl",
		Short: "gl7ctl drives a GL7 sorption cooler through a Lake Shore 350",
		Long: `gl7ctl drives a GL7 sorption cooler through a Lake Shore 350 temperature controller.

The daemon owns the serial port, records sensor snapshots and runs the
cooldown sequence. Every other command talks to the daemon.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon and installer do not talk to a running daemon.
			if cmd.Annotations["local"] == "true" {
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Restart the daemon after upgrading gl7ctl.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("gl7ctl daemon is too old to report its version. Restart the daemon after upgrading gl7ctl.")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "gl7ctl daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewReadCommand(),
		NewHistoryCommand(),
		NewIdentifyCommand(),
		NewHeaterCommand(),
		NewSwitchCommand(),
		NewStopCommand(),
		NewCooldownCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
