package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/store"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_operations_total",
			Help: "Storefront intents by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_operation_duration_seconds",
			Help:    "Duration of storefront operations that call the product API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	operationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_operation_failures_total",
			Help: "Reported storefront failures by operation and kind",
		},
		[]string{"operation", "kind"},
	)

	catalogProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_catalog_products",
		Help: "Products currently listed in the catalog",
	})

	cartUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_cart_units",
		Help: "Units currently held in the cart",
	})
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeNoop    = "noop"
)

func recordState(st store.State) {
	catalogProducts.Set(float64(len(st.Catalog)))
	cartUnits.Set(float64(st.Cart.ItemCount()))
}
