package plugin

import (
	"context"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
)

// Diagnostic describes a settlement hook failure. It never changes the outcome of the
// execution or polling session it happened in.
type Diagnostic struct {
	Hook    Hook
	Plugin  string
	Channel payment.Channel
	Err     error
}

// Kind is the error kind of the failure.
func (d Diagnostic) Kind() domainErrors.Kind {
	return domainErrors.KindOf(d.Err)
}

type DiagnosticsFunc func(Diagnostic)

// Settle runs a settlement hook on every plugin implementing it. Each failure is logged
// and reported instead of returned, and does not keep later plugins from running.
func (d *Driver) Settle(ctx context.Context, hook Hook, st *State, ev Event, report DiagnosticsFunc) {
	for _, p := range d.Plugins() {
		err := d.implantOne(ctx, hook, p, st, ev)
		if err == nil {
			continue
		}
		d.logger.Warn().
			Err(err).
			Str("plugin", p.Name()).
			Str("hook", hook.String()).
			Str("channel", string(st.Channel)).
			Msg("Settlement hook failed")
		if report != nil {
			report(Diagnostic{Hook: hook, Plugin: p.Name(), Channel: st.Channel, Err: err})
		}
	}
}
