package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gl7cryo/gl7ctl/pkg/daemon"
	"github.com/gl7cryo/gl7ctl/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Run gl7ctl daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{"local": "true"},
		Long: `Run gl7ctl daemon in the foreground.

The daemon opens the serial port of the Lake Shore 350 and serves the other
commands over a unix socket. On SIGINT or SIGTERM it aborts a running
cooldown, turns every heater off and closes the port. SIGHUP reloads the
poll settings from the config file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("gl7ctl daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")

	return cmd
}
