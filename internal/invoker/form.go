package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Form is an HTML payment form issued by the backend.
type Form struct {
	Action string
	Method string
	Fields map[string]string
}

// ParseForm extracts the first form element from an HTML fragment.
func ParseForm(fragment string) (Form, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return Form{}, domainErrors.Wrap(domainErrors.KindInvokeFailed, "malformed form html", err)
	}

	var form *html.Node
	for n := range doc.Descendants() {
		if n.Type == html.ElementNode && n.DataAtom == atom.Form {
			form = n
			break
		}
	}
	if form == nil {
		return Form{}, unsupported("invalid payment form html")
	}

	out := Form{
		Action: attr(form, "action"),
		Method: strings.ToUpper(attr(form, "method")),
		Fields: make(map[string]string),
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.Action == "" {
		return Form{}, unsupported("payment form has no action")
	}
	for n := range form.Descendants() {
		if n.Type != html.ElementNode || (n.DataAtom != atom.Input && n.DataAtom != atom.Textarea) {
			continue
		}
		name := attr(n, "name")
		if name == "" {
			continue
		}
		if n.DataAtom == atom.Textarea && n.FirstChild != nil {
			out.Fields[name] = n.FirstChild.Data
			continue
		}
		out.Fields[name] = attr(n, "value")
	}
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// submitForm posts the form; the outcome arrives later through polling.
func submitForm(ctx context.Context, b Browser, fragment string) (payment.Raw, error) {
	form, err := ParseForm(fragment)
	if err != nil {
		return nil, err
	}
	if err := b.SubmitForm(ctx, form); err != nil {
		return nil, err
	}
	return payment.ActionRaw(payment.ActionURLJump, form.Action), nil
}

// FormInvoker submits a backend-rendered HTML form, whatever the channel.
type FormInvoker struct {
	Browser Browser
}

func (i FormInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.Browser == nil {
		return nil, unavailable("form")
	}
	fragment, ok := decodeString(payload)
	if !ok {
		return nil, unsupported("form invoker expects an html string")
	}
	res, err := submitForm(ctx, i.Browser, fragment)
	if err != nil {
		return settle("form", err)
	}
	return res, nil
}
