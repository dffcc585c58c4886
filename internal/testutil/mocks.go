package testutil

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/invoker"
)

// --- Transport Mock ---

// Call records one request seen by MockTransport.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// MockTransport is a mock implementation of transport.Client.
type MockTransport struct {
	mu    sync.Mutex
	calls []Call

	GetFunc  func(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	PostFunc func(ctx context.Context, path string, body any) (json.RawMessage, error)
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	m.record(Call{Method: "GET", Path: path, Query: query})
	if m.GetFunc != nil {
		return m.GetFunc(ctx, path, query)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockTransport) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	m.record(Call{Method: "POST", Path: path, Body: body})
	if m.PostFunc != nil {
		return m.PostFunc(ctx, path, body)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockTransport) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns a copy of the recorded requests.
func (m *MockTransport) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *MockTransport) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// --- Browser Mock ---

// MockBrowser is a mock implementation of invoker.Browser.
type MockBrowser struct {
	mu         sync.Mutex
	UA         string
	Navigated  []string
	Submitted  []invoker.Form
	Scripts    []string
	JSAPICalls []string

	NavigateFunc    func(ctx context.Context, url string) error
	SubmitFormFunc  func(ctx context.Context, form invoker.Form) error
	LoadScriptFunc  func(ctx context.Context, src string) error
	InvokeJSAPIFunc func(ctx context.Context, api string, args payment.Raw) (payment.Raw, error)
}

func NewMockBrowser(userAgent string) *MockBrowser {
	return &MockBrowser{UA: userAgent}
}

func (m *MockBrowser) UserAgent() string {
	return m.UA
}

func (m *MockBrowser) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	m.Navigated = append(m.Navigated, url)
	m.mu.Unlock()
	if m.NavigateFunc != nil {
		return m.NavigateFunc(ctx, url)
	}
	return nil
}

func (m *MockBrowser) SubmitForm(ctx context.Context, form invoker.Form) error {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, form)
	m.mu.Unlock()
	if m.SubmitFormFunc != nil {
		return m.SubmitFormFunc(ctx, form)
	}
	return nil
}

func (m *MockBrowser) LoadScript(ctx context.Context, src string) error {
	m.mu.Lock()
	m.Scripts = append(m.Scripts, src)
	m.mu.Unlock()
	if m.LoadScriptFunc != nil {
		return m.LoadScriptFunc(ctx, src)
	}
	return nil
}

func (m *MockBrowser) InvokeJSAPI(ctx context.Context, api string, args payment.Raw) (payment.Raw, error) {
	m.mu.Lock()
	m.JSAPICalls = append(m.JSAPICalls, api)
	m.mu.Unlock()
	if m.InvokeJSAPIFunc != nil {
		return m.InvokeJSAPIFunc(ctx, api, args)
	}
	return payment.Raw{}, nil
}

// --- Host Mocks ---

// MockWechatMini is a mock implementation of invoker.WechatMiniHost.
type MockWechatMini struct {
	RequestPaymentFunc func(ctx context.Context, params payment.Raw) (payment.Raw, error)
}

func (m *MockWechatMini) RequestPayment(ctx context.Context, params payment.Raw) (payment.Raw, error) {
	if m.RequestPaymentFunc != nil {
		return m.RequestPaymentFunc(ctx, params)
	}
	return payment.Raw{"errMsg": "requestPayment:ok"}, nil
}

// MockAlipayMini is a mock implementation of invoker.AlipayMiniHost.
type MockAlipayMini struct {
	TradePayFunc func(ctx context.Context, tradeNO string) (payment.Raw, error)
}

func (m *MockAlipayMini) TradePay(ctx context.Context, tradeNO string) (payment.Raw, error) {
	if m.TradePayFunc != nil {
		return m.TradePayFunc(ctx, tradeNO)
	}
	return payment.Raw{"resultCode": "9000"}, nil
}

// MockUniApp is a mock implementation of invoker.UniAppHost.
type MockUniApp struct {
	RequestPaymentFunc func(ctx context.Context, provider string, orderInfo payment.Raw) (payment.Raw, error)
}

func (m *MockUniApp) RequestPayment(ctx context.Context, provider string, orderInfo payment.Raw) (payment.Raw, error) {
	if m.RequestPaymentFunc != nil {
		return m.RequestPaymentFunc(ctx, provider, orderInfo)
	}
	return payment.Raw{"errMsg": "requestPayment:ok"}, nil
}

// MockBridge is a mock implementation of invoker.BridgeHost.
type MockBridge struct {
	CallFunc func(ctx context.Context, method string, data json.RawMessage) (payment.Raw, error)
}

func (m *MockBridge) Call(ctx context.Context, method string, data json.RawMessage) (payment.Raw, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, method, data)
	}
	return payment.Raw{}, nil
}
