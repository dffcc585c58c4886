package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/rs/zerolog"
)

// Driver holds plugins in execution order: the pre group first, then everything else,
// each group in registration order.
type Driver struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  zerolog.Logger
}

func NewDriver(logger zerolog.Logger) *Driver {
	return &Driver{logger: logger}
}

func enforceOf(p Plugin) Enforce {
	if e, ok := p.(Enforcer); ok {
		return e.Enforce()
	}
	return EnforceNone
}

// Use registers a plugin. Names must be unique.
func (d *Driver) Use(p Plugin) error {
	if p == nil || p.Name() == "" {
		return domainErrors.New(domainErrors.KindInvalidConfig, "plugin must have a name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %s", domainErrors.ErrDuplicatePlugin, p.Name())
		}
	}

	// each plugin goes to the end of its own group: pre, default, post
	rank := groupRank(enforceOf(p))
	at := 0
	for at < len(d.plugins) && groupRank(enforceOf(d.plugins[at])) <= rank {
		at++
	}
	d.plugins = slices.Insert(d.plugins, at, p)
	return nil
}

func groupRank(e Enforce) int {
	switch e {
	case EnforcePre:
		return 0
	case EnforcePost:
		return 2
	}
	return 1
}

// Plugins returns the registered plugins in execution order.
func (d *Driver) Plugins() []Plugin {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.plugins)
}

// Implant runs hook on every plugin implementing it. The first failure stops the
// remaining plugins: a plugin abort yields PLUGIN_INTERRUPT, a categorized error passes
// through, and anything else (including a panic) becomes PLUGIN_ERROR.
func (d *Driver) Implant(ctx context.Context, hook Hook, st *State, ev Event) error {
	for _, p := range d.Plugins() {
		if err := d.implantOne(ctx, hook, p, st, ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) implantOne(ctx context.Context, hook Hook, p Plugin, st *State, ev Event) error {
	wasAborted := st.Aborted()
	called, err := d.call(ctx, hook, p, st, ev)
	if !called {
		return nil
	}
	if err != nil {
		var pe *domainErrors.PayError
		if errors.As(err, &pe) {
			src := &HookError{Plugin: p.Name(), Hook: hook, Err: pe.Err}
			return &domainErrors.PayError{Kind: pe.Kind, Message: pe.Message, Channel: pe.Channel, Err: src}
		}
		return domainErrors.Wrap(domainErrors.KindPluginError,
			fmt.Sprintf("[plugin %s] %s failed", p.Name(), hook),
			&HookError{Plugin: p.Name(), Hook: hook, Err: err})
	}
	if !wasAborted && st.Aborted() {
		msg := "aborted by plugin " + p.Name()
		if reason := st.AbortReason(); reason != "" {
			msg += ": " + reason
		}
		return domainErrors.Wrap(domainErrors.KindPluginInterrupt, msg, &HookError{Plugin: p.Name(), Hook: hook})
	}
	return nil
}

func (d *Driver) call(ctx context.Context, hook Hook, p Plugin, st *State, ev Event) (called bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("plugin", p.Name()).Str("hook", hook.String()).Msg("Plugin panicked")
			called = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch hook {
	case HookBeforePay:
		if h, ok := p.(BeforePayHook); ok {
			return true, h.OnBeforePay(ctx, st)
		}
	case HookBeforeSign:
		if h, ok := p.(BeforeSignHook); ok {
			return true, h.OnBeforeSign(ctx, st)
		}
	case HookAfterSign:
		if h, ok := p.(AfterSignHook); ok {
			return true, h.OnAfterSign(ctx, st)
		}
	case HookBeforeInvoke:
		if h, ok := p.(BeforeInvokeHook); ok {
			return true, h.OnBeforeInvoke(ctx, st)
		}
	case HookStateChange:
		if h, ok := p.(StateChangeHook); ok {
			return true, h.OnStateChange(ctx, st, ev.Result)
		}
	case HookSuccess:
		if h, ok := p.(SuccessHook); ok {
			return true, h.OnSuccess(ctx, st, ev.Result)
		}
	case HookFail:
		if h, ok := p.(FailHook); ok {
			return true, h.OnFail(ctx, st, ev.Result, ev.Cause)
		}
	case HookCompleted:
		if h, ok := p.(CompletedHook); ok {
			return true, h.OnCompleted(ctx, st)
		}
	}
	return false, nil
}

// HookError records which plugin failed at which hook. It sits in the cause chain of
// every error Implant returns.
type HookError struct {
	Plugin string
	Hook   Hook
	Err    error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("plugin %s at %s", e.Plugin, e.Hook)
	}
	return fmt.Sprintf("plugin %s at %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Source returns the plugin and hook an Implant error came from.
func Source(err error) (string, Hook, bool) {
	var he *HookError
	if errors.As(err, &he) {
		return he.Plugin, he.Hook, true
	}
	return "", 0, false
}
