package daemon

import (
	"math"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

var (
	promRegistry = prom.NewRegistry()

	channelReading = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "gl7",
		Name:      "channel_reading",
		Help:      "Last usable reading per channel, converted to kelvin where calibrated",
	}, []string{"channel", "unit"})
	channelRaw = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "gl7",
		Name:      "channel_raw",
		Help:      "Last usable raw reading per channel in the unit of the channel kind",
	}, []string{"channel", "unit"})
	channelFaults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gl7",
		Name:      "channel_faults_total",
		Help:      "Readings that did not produce a value, by status",
	}, []string{"channel", "status"})
	heaterLevel = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "gl7",
		Name:      "heater_level_percent",
		Help:      "Commanded manual output of each heater",
	}, []string{"output", "heater"})
	sequenceStage = prom.NewGauge(prom.GaugeOpts{
		Namespace: "gl7",
		Name:      "sequence_stage",
		Help:      "Current cooldown stage (0 idle, 8 complete, -1 aborted)",
	})
	sequenceOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gl7",
		Name:      "sequence_stage_outcomes_total",
		Help:      "Finished stages by outcome",
	}, []string{"stage", "outcome"})
	emergencyStops = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gl7",
		Name:      "emergency_stops_total",
		Help:      "Emergency heater stops by result",
	}, []string{"result"})
	snapshotsTotal = prom.NewCounter(prom.CounterOpts{
		Namespace: "gl7",
		Name:      "snapshots_total",
		Help:      "Sensor snapshots taken by the poller",
	})
)

var registerMetricsOnce sync.Once

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		promRegistry.MustRegister(channelReading, channelRaw, channelFaults, heaterLevel)
		promRegistry.MustRegister(sequenceStage, sequenceOutcomes, emergencyStops, snapshotsTotal)
		promRegistry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
}

// observeSnapshot updates channel gauges. Sentinels count as faults and
// leave the gauges at their last value.
func observeSnapshot(snap sensor.Snapshot) {
	for _, e := range snap.Entries {
		if !e.Raw.IsValue() {
			channelFaults.WithLabelValues(e.Channel, string(e.Raw.Status)).Inc()
			continue
		}
		channelRaw.WithLabelValues(e.Channel, string(e.Raw.Unit)).Set(e.Raw.Value)
		if e.Reading.IsValue() {
			channelReading.WithLabelValues(e.Channel, string(e.Reading.Unit)).Set(e.Reading.Value)
		}
	}
}

func observeHeater(st actuator.HeaterStatus) {
	if math.IsNaN(st.Commanded) {
		return
	}
	heaterLevel.WithLabelValues(strconv.Itoa(st.Output), st.Name).Set(st.Commanded)
}

func observeEmergencyStop(ok bool) {
	result := "complete"
	if !ok {
		result = "incomplete"
	}
	emergencyStops.WithLabelValues(result).Inc()
}
