package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"verbapost/internal/pkg/httpclient"
	"verbapost/internal/service/order/domain/port"
)

const stripeService = "stripe"

// StripeCheckoutAdapter 是 port.CheckoutService 的 Stripe Checkout 实现。
type StripeCheckoutAdapter struct {
	client    *httpclient.Client
	baseURL   string
	secretKey string
	currency  string
}

func NewStripeCheckoutAdapter(client *httpclient.Client, baseURL, secretKey, currency string) *StripeCheckoutAdapter {
	if currency == "" {
		currency = "usd"
	}
	return &StripeCheckoutAdapter{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		currency:  currency,
	}
}

type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// CreateSession 创建一次性付款会话。Idempotency-Key 保证重复提交得到同一个会话。
func (a *StripeCheckoutAdapter) CreateSession(ctx context.Context, req port.CheckoutRequest) (*port.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.ReturnURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", req.OrderID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", a.currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)

	header := a.header()
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	data, err := a.client.PostForm(ctx, stripeService, a.baseURL+"/v1/checkout/sessions", form, header)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	var session stripeSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("checkout session response missing id or url")
	}
	return &port.CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

// CheckStatus 查询会话的付款状态。
func (a *StripeCheckoutAdapter) CheckStatus(ctx context.Context, sessionID string) (port.PaymentStatus, error) {
	var session stripeSession
	endpoint := a.baseURL + "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := a.client.GetJSON(ctx, stripeService, endpoint, a.header(), &session); err != nil {
		return 0, errors.Wrapf(err, "retrieve checkout session %s", sessionID)
	}
	switch session.PaymentStatus {
	case "paid", "no_payment_required":
		return port.PaymentPaid, nil
	}
	return port.PaymentUnpaid, nil
}

func (a *StripeCheckoutAdapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.secretKey)
	return h
}
