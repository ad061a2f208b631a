package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var (
	ExchangeRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sale_trading_rate",
		Help: "Tokens per native unit as reported by tradingRate()",
	})

	NativeUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sale_native_price_fiat",
		Help: "Fiat price of the native currency from the price feed",
	})

	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sale_fetch_errors_total",
		Help: "Failed external fetches by source",
	}, []string{"source"}) // rate | price

	Purchases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sale_purchases_total",
		Help: "Purchase attempts by outcome",
	}, []string{"result"}) // ok | failed | rejected

	QuoteRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sale_quote_requests_total",
		Help: "Quotes served over HTTP",
	})

	ConfirmLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sale_confirm_latency_seconds",
		Help:    "Time from broadcast to receipt",
		Buckets: []float64{1, 3, 5, 10, 20, 40, 80, 160},
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sale_ws_clients",
		Help: "Connected websocket clients",
	})
)

func init() {
	prometheus.MustRegister(
		ExchangeRate,
		NativeUSD,
		FetchErrors,
		Purchases,
		QuoteRequests,
		ConfirmLatency,
		WSClients,
	)
}

// SetDecimal: gauge принимает float64, точность тут не важна.
func SetDecimal(g prometheus.Gauge, d decimal.Decimal) {
	f, _ := d.Float64()
	g.Set(f)
}
