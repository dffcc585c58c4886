package invoker

import (
	"context"
	"encoding/json"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
)

var uniProviders = map[payment.Channel]string{
	payment.ChannelWechat: "wxpay",
	payment.ChannelAlipay: "alipay",
}

type uniAppInvoker struct {
	host    UniAppHost
	channel payment.Channel
}

func (i *uniAppInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.host == nil {
		return nil, unavailable(TypeUniApp)
	}
	provider, ok := uniProviders[i.channel]
	if !ok {
		return nil, domainErrors.New(domainErrors.KindNotSupported, "uni-app cannot pay with "+string(i.channel))
	}

	var orderInfo payment.Raw
	if s, ok := decodeString(payload); ok {
		// alipay order strings travel as-is
		orderInfo = payment.Raw{"orderInfo": s}
	} else {
		var err error
		if orderInfo, err = decodeObject(payload); err != nil {
			return nil, err
		}
	}

	res, err := i.host.RequestPayment(ctx, provider, orderInfo)
	if err != nil {
		return settle(TypeUniApp, err)
	}
	out := res.Clone()
	if out == nil {
		out = payment.Raw{}
	}
	if out.String("errMsg") == "" {
		out["errMsg"] = "requestPayment:ok"
	}
	// uni-app reports alipay success with the wechat-style errMsg; tag it so the alipay table applies
	if i.channel == payment.ChannelAlipay && out.String("resultCode") == "" {
		out["resultCode"] = "9000"
	}
	return out, nil
}

type wechatMiniInvoker struct {
	host WechatMiniHost
}

var wechatSignedFields = []string{"timeStamp", "nonceStr", "package", "signType", "paySign"}

func (i *wechatMiniInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.host == nil {
		return nil, unavailable(TypeWechatMini)
	}
	data, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	params := payment.Raw{}
	for _, k := range wechatSignedFields {
		if v, ok := data[k]; ok {
			params[k] = v
		}
	}
	if params.String("paySign") == "" {
		return nil, domainErrors.Wrap(domainErrors.KindSignatureFailed, "signed payload lacks paySign", domainErrors.ErrUnsupportedPayload)
	}

	res, err := i.host.RequestPayment(ctx, params)
	if err != nil {
		return settle(TypeWechatMini, err)
	}
	out := res.Clone()
	if out == nil {
		out = payment.Raw{}
	}
	if out.String("errMsg") == "" {
		out["errMsg"] = "requestPayment:ok"
	}
	// the success callback carries no transaction id; keep the prepay package for reconciliation
	if _, ok := out["package"]; !ok {
		out["package"] = params["package"]
	}
	return out, nil
}

type alipayMiniInvoker struct {
	host AlipayMiniHost
}

func (i *alipayMiniInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.host == nil {
		return nil, unavailable(TypeAlipayMini)
	}

	tradeNO, ok := decodeString(payload)
	if !ok {
		data, err := decodeObject(payload)
		if err != nil {
			return nil, err
		}
		for _, k := range []string{"tradeNO", "trade_no", "orderStr"} {
			if tradeNO = data.String(k); tradeNO != "" {
				break
			}
		}
	}
	if tradeNO == "" {
		return nil, domainErrors.Wrap(domainErrors.KindInvokeFailed, "payload carries no trade number", domainErrors.ErrUnsupportedPayload)
	}

	res, err := i.host.TradePay(ctx, tradeNO)
	if err != nil {
		return settle(TypeAlipayMini, err)
	}
	out := res.Clone()
	if out == nil {
		out = payment.Raw{}
	}
	if out.String("tradeNo") == "" {
		out["tradeNo"] = tradeNO
	}
	return out, nil
}

type bridgeInvoker struct {
	host BridgeHost
}

const bridgeMethod = "nativePay"

func (i *bridgeInvoker) Invoke(ctx context.Context, payload json.RawMessage) (payment.Raw, error) {
	if i.host == nil {
		return nil, unavailable(TypeBridge)
	}
	res, err := i.host.Call(ctx, bridgeMethod, payload)
	if err != nil {
		return settle(TypeBridge, err)
	}
	return res, nil
}
