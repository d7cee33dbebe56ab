package starter

import (
	"context"

	"moff.io/wallet-connector/internal/config"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

// Start applies the global configuration to every Configurable element, then
// starts the elements in order.
func Start(ctx context.Context, elems ...Startable) {
	StartWith(ctx, config.Global, elems...)
}

func StartWith(ctx context.Context, c *config.Configuration, elems ...Startable) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok && c != nil {
			configurable.Apply(c)
		}
		ele.Start(ctx)
	}
}

type Stopable interface {
	Stop()
}

// Stop stops the elements in reverse order.
func Stop(elems ...Stopable) {
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i].Stop()
	}
}
