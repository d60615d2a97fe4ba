package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gl7cryo/gl7ctl/pkg/config"
	daemonutils "github.com/gl7cryo/gl7ctl/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install gl7ctl daemon (system-wide)",
		GroupID:     gInstallation,
		Annotations: map[string]string{"local": "true"},
		Long: `Install gl7ctl daemon as a systemd service.

This makes the daemon run in the background and start on boot. You must run this command as root.

By default, only root user is allowed to access the daemon. Use --allow-non-root-access to let other users run gl7ctl without sudo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(conf); err != nil {
				return pkgerrors.Wrapf(err, "invalid config %s", configPath)
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the gl7ctl daemon.")
			} else {
				logrus.Info("only root user is allowed to access the gl7ctl daemon.")
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `gl7ctl install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access gl7ctl daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall gl7ctl daemon (system-wide)",
		GroupID:     gInstallation,
		Annotations: map[string]string{"local": "true"},
		Long: `Stop gl7ctl daemon and remove its systemd service.

The daemon turns every heater off when it stops. You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `gl7ctl' again.\n", configPath)

			return nil
		},
	}

	return cmd
}
