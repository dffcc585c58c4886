package builtin

import (
	"context"
	"maps"

	"github.com/cassiomorais/cashier/internal/plugin"
	"github.com/rs/zerolog"
)

// TokenSource returns the caller's session token; ok is false when nobody is logged in.
type TokenSource func(ctx context.Context) (token string, ok bool, err error)

// Auth runs first. It aborts unauthenticated payments and injects the token into params.extra
// so the backend can attribute the order.
type Auth struct {
	tokens         TokenSource
	onUnauthorized func(ctx context.Context, st *plugin.State)
	field          string
	logger         zerolog.Logger
}

type AuthOption func(*Auth)

// WithUnauthorized is called before the abort, e.g. to redirect to a login page.
func WithUnauthorized(fn func(ctx context.Context, st *plugin.State)) AuthOption {
	return func(a *Auth) { a.onUnauthorized = fn }
}

// WithTokenField changes the extra key the token is written to.
func WithTokenField(name string) AuthOption {
	return func(a *Auth) { a.field = name }
}

func WithAuthLogger(l zerolog.Logger) AuthOption {
	return func(a *Auth) { a.logger = l }
}

func NewAuth(tokens TokenSource, opts ...AuthOption) *Auth {
	a := &Auth{tokens: tokens, field: "token", logger: zerolog.Nop()}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (p *Auth) Name() string            { return "auth-check" }
func (p *Auth) Enforce() plugin.Enforce { return plugin.EnforcePre }

func (p *Auth) OnBeforePay(ctx context.Context, st *plugin.State) error {
	token, ok, err := p.tokens(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if p.onUnauthorized != nil {
			p.onUnauthorized(ctx, st)
		}
		st.Abort("user not logged in")
		return nil
	}

	extra := maps.Clone(st.Params.Extra)
	if extra == nil {
		extra = make(map[string]any)
	}
	extra[p.field] = token
	st.Params.Extra = extra
	return nil
}

func (p *Auth) OnBeforeSign(_ context.Context, st *plugin.State) error {
	p.logger.Debug().Str("order_id", st.Params.OrderID).Msg("Token attached for signing")
	return nil
}
