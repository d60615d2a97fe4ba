package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/calibration"
	"github.com/gl7cryo/gl7ctl/pkg/config"
	"github.com/gl7cryo/gl7ctl/pkg/events"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/sequence"
	"github.com/gl7cryo/gl7ctl/pkg/serial"
)

var (
	conf    config.Config
	inst    *ls350.LakeShore
	sensors *sensor.Service
	hw      sequence.Hardware
	guard   *safety.Guard
	seq     *sequenceManager
	history = NewSnapshotRecorder(360)
	poller  *Scheduler
	sseHub  = events.NewEventHub()
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/version", getVersion)
	router.GET("/config", getConfig)
	router.GET("/identity", getIdentity)
	router.GET("/readings", getReadings)
	router.GET("/readings/:channel", getReading)
	router.GET("/history", getHistory)
	router.GET("/heaters", getHeaters)
	router.PUT("/heaters/:output/level", setHeaterLevel)
	router.PUT("/heaters/:output/range", setHeaterRange)
	router.GET("/switches", getSwitches)
	router.PUT("/switches/:output", setSwitch)
	router.POST("/emergency-stop", emergencyStop)
	router.GET("/sequence", getSequence)
	router.POST("/sequence/start", startSequence)
	router.POST("/sequence/confirm", confirmSequence)
	router.POST("/sequence/abort", abortSequence)
	router.GET("/events", streamEvents)
	router.GET("/metrics", metricsHandler())

	return router
}

func serialConfig(c config.SerialConfig) serial.Config {
	return serial.Config{
		Device:      c.Device,
		BaudRate:    c.BaudRate,
		DataBits:    c.DataBits,
		Parity:      serial.Parity(c.Parity),
		StopBits:    c.StopBits,
		ReadTimeout: c.ReadTimeout,
	}
}

// setupHardware wires the instrument into the sensor, actuator, safety
// and sequence layers according to c.
func setupHardware(c config.Config, lake *ls350.LakeShore) error {
	srcs := make([]calibration.Source, 0, len(c.Calibrations()))
	for _, s := range c.Calibrations() {
		srcs = append(srcs, calibration.Source{Name: s.Name, Path: s.Path, Policy: calibration.Policy(s.Policy)})
	}
	tables := calibration.LoadSet(srcs)

	channels := make([]sensor.Channel, 0, len(c.Channels()))
	for _, ch := range c.Channels() {
		sc := sensor.Channel{
			Name:        ch.Name,
			Label:       ch.Label,
			Input:       ch.Input,
			Kind:        sensor.Kind(ch.Kind),
			ZeroIsFault: ch.ZeroIsFault,
			Offset:      ch.Offset,
		}
		if ch.Calibration != "" {
			sc.Table = tables.Get(ch.Calibration)
			if sc.Table == nil {
				logrus.WithFields(logrus.Fields{
					"channel":     ch.Name,
					"calibration": ch.Calibration,
				}).Warnf("calibration unavailable, channel reports raw values: %v", tables.Err(ch.Calibration))
			}
		}
		channels = append(channels, sc)
	}

	svc, err := sensor.NewService(lake, channels)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid channel configuration")
	}

	o := c.Outputs()
	h := sequence.Hardware{
		Pump4Heater: actuator.NewHeater(lake, o.Pump4Heater, "pump4"),
		Pump3Heater: actuator.NewHeater(lake, o.Pump3Heater, "pump3"),
		Switch4:     actuator.NewSwitch(lake, o.Switch4, "switch4"),
		Switch3:     actuator.NewSwitch(lake, o.Switch3, "switch3"),
	}

	em := c.Emergency()
	g := safety.NewGuard([]*actuator.Heater{h.Pump4Heater, h.Pump3Heater}, svc, safety.Options{
		Confirm:      em.Confirm != nil && *em.Confirm,
		ConfirmDelay: em.ConfirmDelay,
		Snapshot:     true,
	})

	seqConf := c.Sequence()
	roles := c.Roles()
	m := newSequenceManager(func(confirmer sequence.Confirmer, observer sequence.Observer) *sequence.Controller {
		return sequence.NewController(svc, h, sequence.Roles{Head3: roles.Head3, Head4: roles.Head4}, g, confirmer, sequence.Options{
			Budget:   sequence.RetryBudget{Checks: seqConf.Checks, Interval: seqConf.Interval},
			Observer: observer,
		})
	})

	inst, sensors, hw, guard, seq = lake, svc, h, g, m
	return nil
}

func allHeaters() []*actuator.Heater {
	return []*actuator.Heater{hw.Pump4Heater, hw.Pump3Heater}
}

func allSwitches() []*actuator.Switch {
	return []*actuator.Switch{hw.Switch4, hw.Switch3}
}

// setupPoller (re)applies the poll schedule and history size.
func setupPoller(c config.Config) error {
	p := c.Poll()
	history.Resize(p.HistorySize)
	if poller == nil {
		poller = NewScheduler(pollSnapshot, func(data any) {
			logrus.Warnf("snapshot poll: %v", data)
		})
	}
	if p.Schedule == "" {
		logrus.Info("snapshot polling disabled")
		poller.Stop()
		return nil
	}
	if err := poller.Schedule(p.Schedule); err != nil {
		return pkgerrors.Wrapf(err, "invalid poll schedule %q", p.Schedule)
	}
	poller.Start()
	return nil
}

func pollInterval() time.Duration {
	if poller == nil {
		return 0
	}
	return poller.Interval()
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	registerMetrics()
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	if err := config.Validate(conf); err != nil {
		return pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	if f, ok := conf.(*config.File); ok {
		logrus.WithFields(f.LogrusFields()).Infof("config loaded")
	}

	// Open the serial link to the Lake Shore 350.
	sc := conf.Serial()
	lake := ls350.New(serialConfig(sc), sc.Settle)
	if err := lake.Open(); err != nil {
		return err
	}
	defer func() {
		logrus.Info("closing serial connection")
		if err := lake.Close(); err != nil {
			logrus.Errorf("failed to close serial connection: %v", err)
		}
	}()

	if err := setupHardware(conf, lake); err != nil {
		return err
	}

	if id, err := sensors.Identify(); err != nil {
		logrus.Warnf("instrument did not identify itself: %v", err)
	} else {
		logrus.Infof("connected to %s", id)
	}

	if err := setupPoller(conf); err != nil {
		return err
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := setupPoller(conf); err != nil {
				logrus.Errorf("failed to apply poll settings: %v", err)
			}
			logrus.Infof("config reloaded, channel and output changes take effect after a restart")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// Remove a stale socket left by a crashed daemon.
	if _, err := os.Stat(unixSocketPath); err == nil {
		if err := os.Remove(unixSocketPath); err != nil {
			return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
		}
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return err
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	if poller != nil {
		poller.Stop()
	}

	if err := seq.Abort("daemon shutting down"); err == nil {
		logrus.Info("waiting for the running cooldown to abort")
		if !seq.Wait(10 * time.Second) {
			logrus.Error("cooldown did not abort in time")
		}
	}

	if ok, _ := guard.EmergencyStop(); !ok {
		logrus.Error("failed to turn every heater off before exiting")
	}

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("exiting")
	return nil
}
