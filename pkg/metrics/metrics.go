package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_ticks_total", Help: "Market ticks processed, by outcome"},
		[]string{"outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_signals_total", Help: "Unit signals emitted"},
		[]string{"token", "direction"},
	)
	ZScore = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "statarb_spread_zscore", Help: "Latest spread z-score"},
	)
	Position = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "statarb_position", Help: "Invested state: -1 short spread, 0 flat, 1 long spread"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, SignalsTotal, ZScore, Position)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
