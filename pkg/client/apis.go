package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/config"
	"github.com/gl7cryo/gl7ctl/pkg/events"
	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/sequence"
)

func getJSON[T any](c *Client, path string, what string) (T, error) {
	var ret T
	body, err := c.Get(path)
	if err != nil {
		return ret, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(body), &ret); err != nil {
		return ret, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return ret, nil
}

func sendJSON[T any](c *Client, method, path string, payload any, what string) (T, error) {
	var ret T
	data := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return ret, err
		}
		data = string(b)
	}
	body, err := c.Send(method, path, data)
	if err != nil {
		return ret, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	if err := json.Unmarshal([]byte(body), &ret); err != nil {
		return ret, pkgerrors.Wrapf(err, "failed to unmarshal response of %s", what)
	}
	return ret, nil
}

// GetReadings polls every channel. With calibrated false the raw values
// are returned in place of kelvin.
func (c *Client) GetReadings(calibrated bool) (sensor.Snapshot, error) {
	path := "/readings"
	if !calibrated {
		path += "?calibrated=0"
	}
	return getJSON[sensor.Snapshot](c, path, "readings")
}

func (c *Client) GetReading(channel string) (sensor.Entry, error) {
	return getJSON[sensor.Entry](c, "/readings/"+url.PathEscape(channel), "reading of "+channel)
}

// GetHistory returns the last n recorded snapshots, all of them if n is 0.
func (c *Client) GetHistory(n int) ([]sensor.Snapshot, error) {
	return getJSON[[]sensor.Snapshot](c, "/history?last="+strconv.Itoa(n), "history")
}

func (c *Client) GetHeaters() ([]actuator.HeaterStatus, error) {
	return getJSON[[]actuator.HeaterStatus](c, "/heaters", "heater status")
}

func (c *Client) SetHeaterLevel(output int, level float64) (actuator.HeaterStatus, error) {
	return sendJSON[actuator.HeaterStatus](c, http.MethodPut, fmt.Sprintf("/heaters/%d/level", output), level, "set heater level")
}

func (c *Client) SetHeaterRange(output int, r int) (string, error) {
	return sendJSON[string](c, http.MethodPut, fmt.Sprintf("/heaters/%d/range", output), r, "set heater range")
}

func (c *Client) GetSwitches() ([]actuator.SwitchStatus, error) {
	return getJSON[[]actuator.SwitchStatus](c, "/switches", "switch status")
}

func (c *Client) SetSwitch(output int, on bool) (actuator.SwitchStatus, error) {
	return sendJSON[actuator.SwitchStatus](c, http.MethodPut, fmt.Sprintf("/switches/%d", output), on, "set switch")
}

// EmergencyStop aborts any running cooldown and turns every heater off.
func (c *Client) EmergencyStop() (safety.Report, error) {
	return sendJSON[safety.Report](c, http.MethodPost, "/emergency-stop", nil, "stop heaters")
}

// CooldownRequest starts a cooldown. Nil levels use the daemon defaults.
type CooldownRequest struct {
	Pump4Level *float64         `json:"pump4Level,omitempty"`
	Pump3Level *float64         `json:"pump3Level,omitempty"`
	From       sequence.StageID `json:"from,omitempty"`
	Only       bool             `json:"only,omitempty"`
}

func (c *Client) StartCooldown(req CooldownRequest) (sequence.Status, error) {
	return sendJSON[sequence.Status](c, http.MethodPost, "/sequence/start", req, "start cooldown")
}

func (c *Client) GetCooldown() (sequence.Status, error) {
	return getJSON[sequence.Status](c, "/sequence", "cooldown status")
}

// ConfirmCooldown answers the pending operator prompt.
func (c *Client) ConfirmCooldown(ok bool) (string, error) {
	return sendJSON[string](c, http.MethodPost, "/sequence/confirm", ok, "answer prompt")
}

func (c *Client) AbortCooldown(reason string) (sequence.Status, error) {
	var payload any
	if reason != "" {
		payload = reason
	}
	return sendJSON[sequence.Status](c, http.MethodPost, "/sequence/abort", payload, "abort cooldown")
}

func (c *Client) GetIdentity() (string, error) {
	return getJSON[string](c, "/identity", "instrument identity")
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, "/config", "config")
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	return getJSON[string](c, "/version", "version")
}

// Events follows the daemon event stream and calls fn for each event
// until ctx is done, the stream ends, or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(events.Event) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/events", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	var ev events.Event
	var data strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name != "" {
				ev.Data = json.RawMessage(data.String())
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}
