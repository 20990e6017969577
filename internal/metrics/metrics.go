package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// StatusProvider exposes the voip service snapshot.
type StatusProvider interface {
	Status() voip.Status
}

// CallLister returns the engine's live calls.
type CallLister interface {
	Calls() []engine.Call
}

// MissedCounter returns the number of unseen missed calls.
type MissedCounter interface {
	MissedCount(ctx context.Context) (int, error)
}

// MediaStatsProvider returns live RTP stream and packet totals.
type MediaStatsProvider interface {
	MediaStats() (active int, packets uint64)
}

var registrationStates = []engine.RegistrationState{
	engine.RegistrationNone,
	engine.RegistrationProgress,
	engine.RegistrationOk,
	engine.RegistrationCleared,
	engine.RegistrationFailed,
	engine.RegistrationRefreshing,
}

var arbitratorStates = []voip.ArbitratorState{
	voip.ArbitratorIdle,
	voip.ArbitratorPending,
	voip.ArbitratorPresented,
}

// Collector is a prometheus.Collector that gathers voipbridge metrics at scrape time.
type Collector struct {
	status    StatusProvider
	calls     CallLister
	missed    MissedCounter
	media     MediaStatsProvider
	startTime time.Time
	logger    *slog.Logger

	registrationDesc  *prometheus.Desc
	sessionActiveDesc *prometheus.Desc
	arbitrationDesc   *prometheus.Desc
	eventsDesc        *prometheus.Desc
	outcomesDesc      *prometheus.Desc
	droppedDesc       *prometheus.Desc
	engineCallsDesc   *prometheus.Desc
	missedDesc        *prometheus.Desc
	rtpStreamsDesc    *prometheus.Desc
	rtpPacketsDesc    *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider except status
// may be nil if unavailable.
func NewCollector(
	status StatusProvider,
	calls CallLister,
	missed MissedCounter,
	media MediaStatsProvider,
	startTime time.Time,
	logger *slog.Logger,
) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		status:    status,
		calls:     calls,
		missed:    missed,
		media:     media,
		startTime: startTime,
		logger:    logger.With("subsystem", "metrics"),

		registrationDesc: prometheus.NewDesc(
			"voipbridge_registration_state",
			"Account registration state (1 for the current state)",
			[]string{"state"}, nil,
		),
		sessionActiveDesc: prometheus.NewDesc(
			"voipbridge_call_session_active",
			"Whether a call session is being tracked",
			nil, nil,
		),
		arbitrationDesc: prometheus.NewDesc(
			"voipbridge_arbitrator_state",
			"Incoming-call arbitrator state (1 for the current state)",
			[]string{"state"}, nil,
		),
		eventsDesc: prometheus.NewDesc(
			"voipbridge_events_total",
			"Outward events published, by event name",
			[]string{"event"}, nil,
		),
		outcomesDesc: prometheus.NewDesc(
			"voipbridge_incoming_attempts_total",
			"Retired incoming-call attempts, by outcome",
			[]string{"outcome"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			"voipbridge_events_dropped_total",
			"Events dropped because a subscriber was lagging",
			nil, nil,
		),
		engineCallsDesc: prometheus.NewDesc(
			"voipbridge_engine_calls",
			"Live calls held by the engine",
			nil, nil,
		),
		missedDesc: prometheus.NewDesc(
			"voipbridge_missed_calls",
			"Unseen missed calls in the call log",
			nil, nil,
		),
		rtpStreamsDesc: prometheus.NewDesc(
			"voipbridge_rtp_streams_active",
			"Number of active RTP receive streams",
			nil, nil,
		),
		rtpPacketsDesc: prometheus.NewDesc(
			"voipbridge_rtp_packets_received_total",
			"Total RTP packets received",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voipbridge_uptime_seconds",
			"Seconds since the voipbridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrationDesc
	ch <- c.sessionActiveDesc
	ch <- c.arbitrationDesc
	ch <- c.eventsDesc
	ch <- c.outcomesDesc
	ch <- c.droppedDesc
	ch <- c.engineCallsDesc
	ch <- c.missedDesc
	ch <- c.rtpStreamsDesc
	ch <- c.rtpPacketsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := c.status.Status()

	for _, rs := range registrationStates {
		ch <- prometheus.MustNewConstMetric(
			c.registrationDesc, prometheus.GaugeValue,
			boolValue(st.Registration.String() == rs.String()), rs.String(),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.sessionActiveDesc, prometheus.GaugeValue, boolValue(st.SessionActive),
	)

	for _, as := range arbitratorStates {
		ch <- prometheus.MustNewConstMetric(
			c.arbitrationDesc, prometheus.GaugeValue,
			boolValue(st.Arbitration == as), as.String(),
		)
	}

	for name, n := range st.EventCounts {
		ch <- prometheus.MustNewConstMetric(
			c.eventsDesc, prometheus.CounterValue, float64(n), string(name),
		)
	}
	for outcome, n := range st.Outcomes {
		ch <- prometheus.MustNewConstMetric(
			c.outcomesDesc, prometheus.CounterValue, float64(n), outcome,
		)
	}
	ch <- prometheus.MustNewConstMetric(
		c.droppedDesc, prometheus.CounterValue, float64(st.Dropped),
	)

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.engineCallsDesc, prometheus.GaugeValue, float64(len(c.calls.Calls())),
		)
	}

	if c.missed != nil {
		n, err := c.missed.MissedCount(ctx)
		if err != nil {
			c.logger.Error("failed to count missed calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.missedDesc, prometheus.GaugeValue, float64(n),
			)
		}
	}

	if c.media != nil {
		active, packets := c.media.MediaStats()
		ch <- prometheus.MustNewConstMetric(
			c.rtpStreamsDesc, prometheus.GaugeValue, float64(active),
		)
		ch <- prometheus.MustNewConstMetric(
			c.rtpPacketsDesc, prometheus.CounterValue, float64(packets),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
