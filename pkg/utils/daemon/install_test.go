package daemon

import (
	"strings"
	"testing"
)

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/gl7ctl", "/etc/gl7ctl/config.yaml")
	if !strings.Contains(u, "ExecStart=/usr/local/bin/gl7ctl daemon --config /etc/gl7ctl/config.yaml\n") {
		t.Fatalf("unexpected ExecStart in unit:\n%s", u)
	}
	if strings.Contains(u, "/path/to/") {
		t.Fatalf("placeholder left in unit:\n%s", u)
	}
}
