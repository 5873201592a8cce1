// README: Prometheus metrics for navigation sessions, wired into the session manager.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"navi/internal/modules/navigation"
)

// Collector counts session notifications and tracks session and route
// acquisition metrics. It satisfies navigation.Observer and
// navigation.SessionGauge.
type Collector struct {
	gatherer prometheus.Gatherer

	Notifications *prometheus.CounterVec
	Sessions      *prometheus.GaugeVec
	Acquisitions  *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	notifications, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "navi_notifications_total",
		Help: "Session notifications delivered, labeled by event.",
	}, []string{"event"}), "navi_notifications_total")
	if err != nil {
		return nil, err
	}
	sessions, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "navi_sessions_active",
		Help: "Open navigation sessions, labeled open or navigating.",
	}, []string{"state"}), "navi_sessions_active")
	if err != nil {
		return nil, err
	}
	acquisitions, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "navi_route_acquisition_seconds",
		Help:    "Routing engine round trip for route acquisitions, labeled by outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"outcome"}), "navi_route_acquisition_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		Notifications: notifications,
		Sessions:      sessions,
		Acquisitions:  acquisitions,
	}, nil
}

var (
	_ navigation.Observer     = (*Collector)(nil)
	_ navigation.SessionGauge = (*Collector)(nil)
)

func (c *Collector) Name() string { return "metrics" }

func (c *Collector) Handlers(string) navigation.Handlers {
	return navigation.AllHandlers(func(n navigation.Notification) {
		c.Notifications.WithLabelValues(string(n.Event)).Inc()
	})
}

func (c *Collector) SetSessions(open, navigating int) {
	c.Sessions.WithLabelValues("open").Set(float64(open))
	c.Sessions.WithLabelValues("navigating").Set(float64(navigating))
}

// ObserveAcquisition records one routing engine round trip.
func (c *Collector) ObserveAcquisition(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Acquisitions.WithLabelValues(outcome).Observe(d.Seconds())
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
