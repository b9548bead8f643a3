package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// register добавляет коллектор в реестр. Если коллектор с тем же описанием уже есть
// (второй NewCheckoutMetrics в процессе, тесты), возвращается существующий,
// и счётчики витрины не раздваиваются.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("register storefront metric: %v", err))
}
