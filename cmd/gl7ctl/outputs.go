package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
)

func NewHeaterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "heater",
		Short:   "Show or set pump heaters",
		GroupID: gOutputs,
		Long: `Show or set the pump heaters (Lake Shore outputs 1 and 2).

Heaters are driven in open-loop manual mode. Changing them by hand is
refused while a cooldown is running.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show heater status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				hs, err := apiClient.GetHeaters()
				if err != nil {
					return err
				}
				cmd.Println(bold("Heaters:"))
				for _, h := range hs {
					printHeater(cmd, h)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set [output] [percent]",
			Short: "Set a heater level in percent",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				output, err := parseIntArg(args[0], "output")
				if err != nil {
					return err
				}
				level, err := parseFloatArg(args[1], "level")
				if err != nil {
					return err
				}
				st, err := apiClient.SetHeaterLevel(output, level)
				if err != nil {
					return fmt.Errorf("failed to set heater level: %w", err)
				}
				logrus.Infof("heater %s (output %d) set to %g%%", st.Name, st.Output, level)
				printHeater(cmd, st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "off [output]",
			Short: "Turn a heater off",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				output, err := parseIntArg(args[0], "output")
				if err != nil {
					return err
				}
				st, err := apiClient.SetHeaterLevel(output, 0)
				if err != nil {
					return fmt.Errorf("failed to turn heater off: %w", err)
				}
				printHeater(cmd, st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "range [output] [0-3]",
			Short: "Set a heater range (0 off, 1 low, 2 medium, 3 high)",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				output, err := parseIntArg(args[0], "output")
				if err != nil {
					return err
				}
				r, err := parseIntArg(args[1], "range")
				if err != nil {
					return err
				}
				ret, err := apiClient.SetHeaterRange(output, r)
				if err != nil {
					return fmt.Errorf("failed to set heater range: %w", err)
				}
				logrus.Infof("daemon responded: %s", ret)
				return nil
			},
		},
	)

	return cmd
}

func printHeater(cmd *cobra.Command, h actuator.HeaterStatus) {
	cmd.Printf("  %-8s output %d  mode %-11s commanded %s  actual %s\n",
		h.Name, h.Output, h.Mode, levelText(h.Commanded), levelText(h.Actual))
}

func NewSwitchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "switch",
		Short:   "Show or set heat switches",
		GroupID: gOutputs,
		Long:    `Show or set the heat switches (Lake Shore analog outputs 3 and 4).`,
	}

	set := func(on bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			output, err := parseIntArg(args[0], "output")
			if err != nil {
				return err
			}
			st, err := apiClient.SetSwitch(output, on)
			if err != nil {
				return fmt.Errorf("failed to set switch: %w", err)
			}
			printSwitch(cmd, st)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show heat switch status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ss, err := apiClient.GetSwitches()
				if err != nil {
					return err
				}
				cmd.Println(bold("Heat switches:"))
				for _, s := range ss {
					printSwitch(cmd, s)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "on [output]",
			Short: "Turn a heat switch on",
			Args:  cobra.ExactArgs(1),
			RunE:  set(true),
		},
		&cobra.Command{
			Use:   "off [output]",
			Short: "Turn a heat switch off",
			Args:  cobra.ExactArgs(1),
			RunE:  set(false),
		},
	)

	return cmd
}

func printSwitch(cmd *cobra.Command, s actuator.SwitchStatus) {
	state := string(s.State)
	switch s.State {
	case actuator.SwitchOn:
		state = color.New(color.FgGreen).Sprint(state)
	case actuator.SwitchUnknown:
		state = color.New(color.FgRed).Sprint(state)
	}
	cmd.Printf("  %-8s output %d  %s\n", s.Name, s.Output, state)
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Emergency stop: abort any cooldown and turn every heater off",
		GroupID: gOutputs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := apiClient.EmergencyStop()
			if err != nil {
				return fmt.Errorf("emergency stop failed: %w", err)
			}
			for _, o := range rep.Outputs {
				line := fmt.Sprintf("  %s %-8s output %d", bool2Text(o.OK), o.Name, o.Output)
				if o.Error != "" {
					line += "  " + o.Error
				}
				cmd.Println(line)
			}
			if !rep.OK {
				return fmt.Errorf("not every heater confirmed off, check the instrument front panel")
			}
			logrus.Info("every heater is off")
			return nil
		},
	}
}
