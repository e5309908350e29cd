// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 16 << 20

// StatusError 表示下游服务返回了非 2xx 响应。
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("service %s returned status %d: %s", e.Service, e.StatusCode, body)
}

// Client 是一个可追踪、带重试的 HTTP 客户端，所有外部协作方适配器共用。
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Retry      RetryConfig
	Timeout    time.Duration // 单次尝试的超时；0 表示只受 ctx 控制
}

// Option 用于定制 Client。
type Option func(*Client)

// WithRetryConfig 覆盖默认的重试策略。
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.Retry = cfg }
}

// WithTimeout 设置单次尝试的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Timeout = d }
}

// WithHTTPClient 替换底层 http.Client（测试中注入 httptest 客户端）。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// NewClient 创建一个新的客户端实例
func NewClient(tracer trace.Tracer, opts ...Option) *Client {
	c := &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		Retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestBuilder 每次尝试都会被调用一次，以便重新构造请求体。
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do 发送请求并返回响应体。service 用于 span 名称和指标标签。
// 5xx/429 以及网络错误会按重试策略重试，其余 4xx 立即返回 *StatusError。
func (c *Client) Do(ctx context.Context, service string, build RequestBuilder) ([]byte, error) {
	ctx, span := c.Tracer.Start(ctx, "call-"+service, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	attempts := 0
	var body []byte
	err := WithRetry(ctx, c.Retry, func() error {
		attempts++
		var err error
		body, err = c.attempt(ctx, service, build)
		return err
	})
	span.SetAttributes(attribute.Int("http.attempts", attempts))
	observe(service, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, service string, build RequestBuilder) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return nil, Permanent(redactError(err))
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("http.url", RedactURL(req.URL)),
		attribute.String("http.method", req.Method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, redactError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(data)}
		if IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, statusErr
		}
		return nil, Permanent(statusErr)
	}
	return data, nil
}

// sensitiveParams 中的查询参数在日志、span 与错误信息里一律打码。
var sensitiveParams = []string{"api_key", "apikey", "key", "token", "access_token", "secret", "password", "signature"}

func isSensitiveParam(name string) bool {
	for _, p := range sensitiveParams {
		if strings.EqualFold(name, p) {
			return true
		}
	}
	return false
}

// RedactURL 返回隐藏了用户信息和敏感查询参数的 URL。
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	q := cp.Query()
	masked := false
	for k := range q {
		if isSensitiveParam(k) {
			q.Set(k, "xxxxx")
			masked = true
		}
	}
	if masked {
		cp.RawQuery = q.Encode()
	}
	return cp.Redacted()
}

// redactError 替换 *url.Error 中的 URL，net/http 的错误信息会原样带上完整请求地址。
func redactError(err error) error {
	uerr, ok := err.(*url.Error)
	if !ok {
		return err
	}
	redacted := "(redacted)"
	if u, perr := url.Parse(uerr.URL); perr == nil {
		redacted = RedactURL(u)
	}
	return &url.Error{Op: uerr.Op, URL: redacted, Err: uerr.Err}
}

// PostForm 以 application/x-www-form-urlencoded 方式发送 POST。
func (c *Client) PostForm(ctx context.Context, service, serviceURL string, form url.Values, header http.Header) ([]byte, error) {
	encoded := form.Encode()
	return c.Do(ctx, service, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// PostJSON 发送 JSON 请求并把响应解码到 out（out 可为 nil）。
func (c *Client) PostJSON(ctx context.Context, service, serviceURL string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	data, err := c.Do(ctx, service, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(service, data, out)
}

// GetJSON 发送 GET 请求并把响应解码到 out。
func (c *Client) GetJSON(ctx context.Context, service, serviceURL string, header http.Header, out any) error {
	data, err := c.Do(ctx, service, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(service, data, out)
}

func decode(service string, data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
