package bybit

import "quotewire/internal/infrastructure/exchange"

func init() {
	exchange.Register(Name, func() exchange.Adapter {
		return New()
	})
}
