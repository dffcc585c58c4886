// Package mockgateway is an in-memory merchant backend that issues channel-shaped payloads
// and answers order-status queries. It backs the demo binary and transport tests.
package mockgateway

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	CodeOK         = 0
	CodeBadRequest = 400
	CodeNotFound   = 404
)

// Envelope wraps every response body.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type order struct {
	channel payment.Channel
	orderID string
	polls   int
	txID    string
}

type Gateway struct {
	mu           sync.Mutex
	orders       map[string]*order
	pendingPolls int
	rateLimit    int
	authSecret   string
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

type Option func(*Gateway)

// WithPendingPolls sets how many status queries answer pending before success.
func WithPendingPolls(n int) Option {
	return func(g *Gateway) { g.pendingPolls = n }
}

// WithRateLimit caps requests per client IP per minute. Zero disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(g *Gateway) { g.rateLimit = perMinute }
}

// WithAuthSecret requires a bearer token signed with secret on /payment routes.
func WithAuthSecret(secret string) Option {
	return func(g *Gateway) { g.authSecret = secret }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		orders:       make(map[string]*order),
		pendingPolls: 2,
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Tracing())
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if g.metrics != nil {
		r.Use(Metrics(g.metrics))
	}
	if g.rateLimit > 0 {
		r.Use(RateLimit(g.rateLimit))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Code: CodeOK, Message: "ok"})
	})
	r.Route("/payment", func(r chi.Router) {
		if g.authSecret != "" {
			r.Use(MerchantAuth(g.authSecret))
		}
		r.Get("/query", g.query)
		r.Post("/{channel}", g.sign)
	})
	return r
}

func key(channel payment.Channel, orderID string) string {
	return string(channel) + ":" + orderID
}

func (g *Gateway) sign(w http.ResponseWriter, r *http.Request) {
	channel := payment.Channel(chi.URLParam(r, "channel"))

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Code: CodeBadRequest, Message: "invalid JSON body"})
		return
	}
	orderID := str(body["out_trade_no"])
	if orderID == "" {
		if meta, ok := body["metadata"].(map[string]any); ok {
			orderID = str(meta["order_id"])
		}
	}
	if orderID == "" {
		writeJSON(w, http.StatusOK, Envelope{Code: CodeBadRequest, Message: "missing order id"})
		return
	}

	var data any
	switch channel {
	case payment.ChannelWechat:
		data = wechatPayload(body)
	case payment.ChannelAlipay:
		data = alipayPayload(body)
	case payment.ChannelStripe:
		data = map[string]any{
			"id":            "pi_" + shortID(),
			"client_secret": "pi_secret_" + shortID(),
		}
	default:
		writeJSON(w, http.StatusOK, Envelope{Code: CodeBadRequest, Message: fmt.Sprintf("unsupported channel %q", channel)})
		return
	}

	g.mu.Lock()
	g.orders[key(channel, orderID)] = &order{
		channel: channel,
		orderID: orderID,
	}
	g.mu.Unlock()

	ev := g.logger.Info().Str("channel", string(channel)).Str("order_id", orderID)
	if merchant, ok := MerchantFrom(r.Context()); ok {
		ev = ev.Str("merchant", merchant)
	}
	ev.Msg("Order signed")
	writeJSON(w, http.StatusOK, Envelope{Code: CodeOK, Message: "ok", Data: data})
}

func (g *Gateway) query(w http.ResponseWriter, r *http.Request) {
	channel := payment.Channel(r.URL.Query().Get("channel"))
	orderID := r.URL.Query().Get("orderId")

	g.mu.Lock()
	o, ok := g.orders[key(channel, orderID)]
	if ok {
		o.polls++
		if o.polls > g.pendingPolls && o.txID == "" {
			o.txID = shortID()
		}
	}
	var snapshot order
	if ok {
		snapshot = *o
	}
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, Envelope{Code: CodeNotFound, Message: "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Code: CodeOK, Message: "ok", Data: statusPayload(snapshot)})
}

func statusPayload(o order) map[string]any {
	paid := o.txID != ""
	switch o.channel {
	case payment.ChannelWechat:
		if paid {
			return map[string]any{"trade_state": "SUCCESS", "transaction_id": "42000" + o.txID, "out_trade_no": o.orderID}
		}
		return map[string]any{"trade_state": "NOTPAY", "out_trade_no": o.orderID}
	case payment.ChannelAlipay:
		if paid {
			return map[string]any{"trade_status": "TRADE_SUCCESS", "trade_no": "2026" + o.txID, "out_trade_no": o.orderID}
		}
		return map[string]any{"trade_status": "WAIT_BUYER_PAY", "out_trade_no": o.orderID}
	default:
		if paid {
			return map[string]any{"id": "pi_" + o.txID, "status": "succeeded"}
		}
		return map[string]any{"id": "pi_pending", "status": "processing"}
	}
}

func wechatPayload(body map[string]any) map[string]any {
	prepay := "wx" + shortID()
	switch str(body["trade_type"]) {
	case "JSAPI":
		return map[string]any{
			"appId":     str(body["appid"]),
			"timeStamp": fmt.Sprint(time.Now().Unix()),
			"nonceStr":  shortID(),
			"package":   "prepay_id=" + prepay,
			"signType":  "RSA",
			"paySign":   "mock-signature",
		}
	case "MWEB":
		return map[string]any{"mweb_url": "https://wx.tenpay.com/cgi-bin/mmpayweb-bin/checkmweb?prepay_id=" + prepay}
	default:
		return map[string]any{"code_url": "weixin://wxpay/bizpayurl?pr=" + prepay}
	}
}

var formTemplate = template.Must(template.New("form").Parse(
	`<form name="punchout_form" method="post" action="https://openapi.alipay.com/gateway.do?charset=utf-8">` +
		`<input type="hidden" name="biz_content" value="{{.}}">` +
		`<input type="submit" value="Pay" style="display:none"></form>`))

func alipayPayload(body map[string]any) any {
	switch str(body["product_code"]) {
	case "FAST_INSTANT_TRADE_PAY":
		return map[string]any{"url": "https://openapi.alipay.com/gateway.do?out_trade_no=" + str(body["out_trade_no"])}
	case "FACE_TO_FACE_PAYMENT":
		return map[string]any{"qr_code": "https://qr.alipay.com/" + shortID()}
	case "QUICK_MSECURITY_PAY":
		return map[string]any{"tradeNO": "2026" + shortID()}
	default:
		biz, _ := json.Marshal(body)
		var sb strings.Builder
		_ = formTemplate.Execute(&sb, string(biz))
		return sb.String()
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
