package exchange

import (
	"github.com/rs/zerolog/log"
)

// Factory builds one adapter variant.
type Factory func() Adapter

// registry maps adapter names to their factories. Each adapter package
// self-registers from init(); the connector is bound to a variant through
// explicit configuration, never by sniffing a worker identifier.
var registry = make(map[string]Factory)

// Register adds a factory under name.
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("adapter", name).Msg("nil adapter factory ignored")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("adapter", name).Msg("adapter factory already registered, overwriting")
	}
	registry[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}
