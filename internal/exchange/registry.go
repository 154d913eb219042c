package exchange

import (
	"fmt"
	"strings"
	"sync"

	"github.com/johnayoung/go-ohlcv-collector/internal/contracts"
)

// Registry dispatches to a named ExchangeAdapter, the same
// switch-on-exchange-name shape the corpus uses for normalized
// multi-exchange fan-out (irfanmcsd-magicklinego's CoreFuturesAllTickers),
// generalized here to a registration map so adding an exchange means
// calling Register, not editing a switch statement.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]contracts.ExchangeAdapter
	concurrency int
}

// NewRegistry returns an empty registry using DefaultExchangeConcurrency.
// Call Register for each supported exchange before use.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]contracts.ExchangeAdapter), concurrency: DefaultExchangeConcurrency}
}

// NewRegistryWithConcurrency is NewRegistry with a caller-chosen per-exchange
// concurrency cap, for tests and deployments that need a different bound
// than the default.
func NewRegistryWithConcurrency(concurrency int) *Registry {
	return &Registry{adapters: make(map[string]contracts.ExchangeAdapter), concurrency: concurrency}
}

// Register adds or replaces the adapter for the given exchange name, wrapped
// in a semaphore that caps concurrent requests against it. Lookups normalize
// case, so "Binance" and "binance" resolve the same.
func (r *Registry) Register(exchange string, adapter contracts.ExchangeAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(exchange)] = newLimitedAdapter(adapter, r.concurrency)
}

// Get returns the adapter registered for exchange, or UnknownExchange if
// none has been registered.
func (r *Registry) Get(exchange string) (contracts.ExchangeAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[strings.ToLower(exchange)]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}
	return adapter, nil
}

// Names returns the registered exchange names, for discovery endpoints.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
