package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fatih/color"

	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/version"
)

func parseIntArg(arg string, valueName string) (int, error) {
	value, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return value, nil
}

func parseFloatArg(arg string, valueName string) (float64, error) {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(value) {
		return 0, fmt.Errorf("invalid %s: %q", valueName, arg)
	}
	return value, nil
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	return version.Version, daemonVersion, err
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// readingText colours sentinels so faults stand out in a table.
func readingText(r sensor.Reading) string {
	switch r.Status {
	case sensor.StatusValue:
		return r.String()
	case sensor.StatusOverRange:
		return color.New(color.FgYellow).Sprint(r.String())
	default:
		return color.New(color.FgRed).Sprint(r.String())
	}
}

func levelText(v float64) string {
	if math.IsNaN(v) {
		return color.New(color.FgRed).Sprint("unknown")
	}
	return fmt.Sprintf("%.2f%%", v)
}
