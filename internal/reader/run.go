package reader

import (
	"context"

	"tickstream/internal/instrument"
	"tickstream/internal/subscription"
)

// Run streams the initial instrument and applies switch commands until ctx is
// cancelled. It never returns for any other reason.
func Run(ctx context.Context, initial instrument.ID, proxyURL string, commands <-chan instrument.ID, opts ...Option) error {
	o, err := buildOptions(opts)
	if err != nil {
		return err
	}
	manager, err := subscription.NewManager(o.Catalog, o.Variant, initial, o.Events)
	if err != nil {
		return err
	}
	client := newClient(manager, proxyURL, o)

	if commands != nil {
		go manager.Serve(ctx, commands)
	}
	return client.Run(ctx)
}
