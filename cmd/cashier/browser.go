package main

import (
	"context"
	"fmt"
	"io"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
)

// consoleBrowser stands in for a real browser: navigations and form posts are printed so
// the operator can open them by hand.
type consoleBrowser struct {
	out io.Writer
}

func (b consoleBrowser) UserAgent() string { return "cashier-cli/1.0" }

func (b consoleBrowser) Navigate(_ context.Context, url string) error {
	_, err := fmt.Fprintf(b.out, "open in a browser: %s\n", url)
	return err
}

func (b consoleBrowser) SubmitForm(_ context.Context, form invoker.Form) error {
	if _, err := fmt.Fprintf(b.out, "submit %s %s\n", form.Method, form.Action); err != nil {
		return err
	}
	for k, v := range form.Fields {
		if _, err := fmt.Fprintf(b.out, "  %s=%s\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

func (b consoleBrowser) LoadScript(context.Context, string) error { return nil }

func (b consoleBrowser) InvokeJSAPI(_ context.Context, api string, _ payment.Raw) (payment.Raw, error) {
	return nil, domainErrors.New(domainErrors.KindNotSupported, api+" needs a real browser")
}
