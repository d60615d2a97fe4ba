package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{"local": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}

func printSnapshot(cmd *cobra.Command, snap sensor.Snapshot, showRaw bool) {
	cmd.Println(bold("Readings at %s:", snap.Time.Format(time.DateTime)))
	for _, e := range snap.Entries {
		label := e.Channel
		if e.Label != "" {
			label = fmt.Sprintf("%s (%s)", e.Channel, e.Label)
		}
		line := fmt.Sprintf("  %-28s %s", label, readingText(e.Reading))
		if showRaw && e.Raw != e.Reading {
			line += fmt.Sprintf("  [raw %s]", readingText(e.Raw))
		}
		cmd.Println(line)
	}
}

func NewReadCommand() *cobra.Command {
	var (
		raw    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "read [channel]",
		Short:   "Read sensors",
		GroupID: gBasic,
		Long: `Read every sensor channel, or only the named one.

Thermometers with a calibration table are shown in kelvin together with the
raw value they were converted from. Faults are shown as OVER (over-range),
NO_RESPONSE or UNPARSED.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				e, err := apiClient.GetReading(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				if asJSON {
					return printJSON(cmd, e)
				}
				printSnapshot(cmd, sensor.Snapshot{Time: time.Now(), Entries: []sensor.Entry{e}}, true)
				return nil
			}

			snap, err := apiClient.GetReadings(!raw)
			if err != nil {
				return fmt.Errorf("failed to read sensors: %w", err)
			}
			if asJSON {
				return printJSON(cmd, snap)
			}
			printSnapshot(cmd, snap, !raw)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "show raw values only, without calibration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func NewHistoryCommand() *cobra.Command {
	var (
		last   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show snapshots recorded by the daemon",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snaps, err := apiClient.GetHistory(last)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, snaps)
			}
			if len(snaps) == 0 {
				cmd.Println("no snapshots recorded yet")
				return nil
			}
			for _, s := range snaps {
				printSnapshot(cmd, s, false)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 5, "number of snapshots to show, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func NewIdentifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "identify",
		Short:   "Print the instrument identification",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := apiClient.GetIdentity()
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}
