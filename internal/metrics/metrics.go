package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creditmart_operations_total",
		Help: "Listing operations by name and result.",
	}, []string{"operation", "result"})

	SettledCredits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "creditmart_settled_credits_total",
		Help: "Total credit units sold.",
	})

	SettledValue = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "creditmart_settled_value_total",
		Help: "Total value paid to sellers.",
	})

	Compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creditmart_compensations_total",
		Help: "Compensating transfers after a failed settlement.",
	}, []string{"result"})
)

func InitMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
	reg.MustRegister(SettledCredits)
	reg.MustRegister(SettledValue)
	reg.MustRegister(Compensations)
}

// Observe учитывает результат операции: "ok" или вид ошибки
func Observe(operation string, result string) {
	Operations.WithLabelValues(operation, result).Inc()
}
