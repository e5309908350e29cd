package interfaces

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/application"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

const (
	serviceName     = "letter-service"
	maxAudioBytes   = 64 << 20
	maxSignatureLen = 2 << 20
	maxJSONBody     = 1 << 20
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// LetterHandler 封装了信件工作流的 HTTP 处理器
type LetterHandler struct {
	service    *application.LetterApplicationService
	blobs      port.BlobStore
	hub        *Hub
	adminToken string
	tracer     trace.Tracer
}

// NewLetterHandler 创建一个新的 HTTP 处理器实例。hub 可以为 nil（不提供推送）。
func NewLetterHandler(service *application.LetterApplicationService, blobs port.BlobStore, hub *Hub, adminToken string) *LetterHandler {
	return &LetterHandler{
		service:    service,
		blobs:      blobs,
		hub:        hub,
		adminToken: adminToken,
		tracer:     otel.Tracer(serviceName),
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *LetterHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /orders", h.traced("http.CreateOrder", h.createOrder))
	mux.HandleFunc("GET /orders/{id}", h.traced("http.GetOrder", h.getOrder))
	mux.HandleFunc("POST /orders/{id}/advance", h.traced("http.Advance", h.advance))
	mux.HandleFunc("POST /orders/{id}/audio", h.traced("http.UploadAudio", h.uploadAudio))
	mux.HandleFunc("POST /orders/{id}/signature", h.traced("http.UploadSignature", h.uploadSignature))
	mux.HandleFunc("GET /orders/{id}/download", h.traced("http.Download", h.download))
	mux.HandleFunc("GET /orders/{id}/ws", h.websocket)

	mux.HandleFunc("GET /checkout/return", h.traced("http.CheckoutReturn", h.checkoutReturn))
	mux.HandleFunc("GET /checkout/cancel", h.traced("http.CheckoutCancel", h.checkoutCancel))

	mux.HandleFunc("GET /admin/heirloom", h.admin(h.traced("http.HeirloomQueue", h.heirloomQueue)))
	mux.HandleFunc("POST /admin/heirloom/{id}/sent", h.admin(h.traced("http.HeirloomSent", h.heirloomSent)))
}

// traced 从请求头提取上游链路上下文并开启 server span
func (h *LetterHandler) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
		)
		if id := r.PathValue("id"); id != "" {
			span.SetAttributes(attribute.String("order.id", id))
		}
		next(w, r.WithContext(ctx))
	}
}

// admin 校验静态 Bearer token，未配置 token 时管理接口关闭
func (h *LetterHandler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *LetterHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	if in.Action == "" {
		in.Action = application.ActionSubmitAddresses
	}
	h.respond(w, r, "", in)
}

func (h *LetterHandler) advance(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	h.respond(w, r, r.PathValue("id"), in)
}

func (h *LetterHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrderState(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Describe(o))
}

// uploadAudio 接收 multipart 录音（字段 audio，可选 duration_seconds），保存后推进 submit_audio。
func (h *LetterHandler) uploadAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		h.writeError(w, r, nil, &domain.ValidationError{Field: "audio", Reason: "multipart field audio is required"})
		return
	}
	defer file.Close()

	duration := 0.0
	if v := r.FormValue("duration_seconds"); v != "" {
		duration, err = strconv.ParseFloat(v, 64)
		if err != nil || duration < 0 {
			h.writeError(w, r, nil, &domain.ValidationError{Field: "duration_seconds", Reason: "must be a non-negative number"})
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if ext == "" {
		ext = ".webm"
	}
	counter := &countingReader{r: file}
	ref, err := h.blobs.Put(r.Context(), "orders/"+id+"/audio/"+uuid.NewString()+ext, counter)
	if err != nil {
		h.writeError(w, r, nil, &domain.CollaboratorError{Collaborator: "blob-store", Op: "put_audio", Err: err})
		return
	}

	h.respond(w, r, id, &application.AdvanceInput{
		Action: application.ActionSubmitAudio,
		Audio: &application.AudioUpload{
			Ref:             ref,
			Filename:        filepath.Base(hdr.Filename),
			DurationSeconds: duration,
			SizeBytes:       counter.n,
		},
	})
}

// uploadSignature 接收 PNG 签名（字段 signature，可省略表示不签名）与可选的 tier，推进 submit_signature。
func (h *LetterHandler) uploadSignature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxSignatureLen)
	in := &application.AdvanceInput{Action: application.ActionSubmitSignature}

	file, _, err := r.FormFile("signature")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || !bytes.HasPrefix(data, pngMagic) {
			h.writeError(w, r, nil, &domain.ValidationError{Field: "signature", Reason: "must be a PNG image"})
			return
		}
		// 每次上传使用新名字，被拒绝的上传不会覆盖订单已引用的签名
		ref, err := h.blobs.Put(r.Context(), "orders/"+id+"/signature-"+uuid.NewString()+".png", bytes.NewReader(data))
		if err != nil {
			h.writeError(w, r, nil, &domain.CollaboratorError{Collaborator: "blob-store", Op: "put_signature", Err: err})
			return
		}
		in.SignatureRef = ref
	case errors.Is(err, http.ErrMissingFile):
	default:
		h.writeError(w, r, nil, &domain.ValidationError{Field: "signature", Reason: "invalid multipart body"})
		return
	}
	in.Tier = r.FormValue("tier")
	h.respond(w, r, id, in)
}

// checkoutReturn 是支付服务的回跳地址，order_id 即恢复令牌。
func (h *LetterHandler) checkoutReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("order_id")
	if id == "" {
		h.writeError(w, r, nil, &domain.ValidationError{Field: "order_id", Reason: "is required"})
		return
	}
	h.respond(w, r, id, &application.AdvanceInput{
		Action:    application.ActionConfirmPayment,
		SessionID: q.Get("session_id"),
		Kind:      q.Get("kind"),
	})
}

func (h *LetterHandler) checkoutCancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrderState(r.Context(), r.URL.Query().Get("order_id"))
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Describe(o))
}

func (h *LetterHandler) download(w http.ResponseWriter, r *http.Request) {
	rc, name, err := h.service.OpenDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	defer rc.Close()

	contentType := "application/pdf"
	if strings.HasSuffix(name, ".zip") {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("order", r.PathValue("id")).Msg("download interrupted")
	}
}

func (h *LetterHandler) websocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.NotFound(w, r)
		return
	}
	o, err := h.service.GetOrderState(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	h.hub.ServeWS(w, r, o)
}

func (h *LetterHandler) heirloomQueue(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListHeirloomQueue(r.Context())
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	states := make([]*application.OrderState, 0, len(orders))
	for _, o := range orders {
		states = append(states, h.service.Describe(o))
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *LetterHandler) heirloomSent(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.MarkHeirloomSent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, o, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Describe(o))
}

func (h *LetterHandler) respond(w http.ResponseWriter, r *http.Request, orderID string, in *application.AdvanceInput) {
	o, err := h.service.Advance(r.Context(), orderID, in)
	if err != nil {
		h.writeError(w, r, o, err)
		return
	}
	status := http.StatusOK
	if orderID == "" && o.ID != "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.service.Describe(o))
}

type errorBody struct {
	Error        string                  `json:"error"`
	Kind         string                  `json:"kind,omitempty"`
	Field        string                  `json:"field,omitempty"`
	Expected     string                  `json:"expected,omitempty"`
	Collaborator string                  `json:"collaborator,omitempty"`
	Order        *application.OrderState `json:"order,omitempty"`
}

// writeError 把错误分类映射为状态码；订单快照随错误一起返回，客户端据此重新渲染当前阶段。
func (h *LetterHandler) writeError(w http.ResponseWriter, r *http.Request, o *domain.Order, err error) {
	status, body := classify(err)
	if o != nil {
		body.Order = h.service.Describe(o)
	}
	if status >= 500 {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	var (
		verr *domain.ValidationError
		cerr *domain.CollaboratorError
		ferr *domain.FatalRenderError
		merr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, domain.ErrPaymentUnconfirmed):
		body.Kind = "payment_unconfirmed"
		return http.StatusAccepted, body
	case errors.As(err, &verr):
		body.Kind, body.Field, body.Expected = "validation", verr.Field, verr.Expected
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &merr):
		body.Kind = "validation"
		return http.StatusRequestEntityTooLarge, body
	case errors.Is(err, domain.ErrOrderNotFound):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrInvalidTransition):
		body.Kind = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrLockTimeout):
		body.Kind = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrNoArtifacts):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &ferr):
		body.Kind = "fatal_render"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrNoRecipients):
		body.Kind = "no_recipients"
		return http.StatusUnprocessableEntity, body
	// 5xx 的原始错误可能带有下游地址等内部细节，只写日志，不返回给客户端
	case errors.As(err, &cerr):
		body.Kind, body.Collaborator = "collaborator", cerr.Collaborator
		body.Error = cerr.Collaborator + " service is unavailable, please try again"
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Kind = "timeout"
		body.Error = "request timed out, please try again"
		return http.StatusGatewayTimeout, body
	}
	body.Kind = "internal"
	body.Error = "internal error"
	return http.StatusInternalServerError, body
}

func decodeInput(w http.ResponseWriter, r *http.Request) (*application.AdvanceInput, bool) {
	var in application.AdvanceInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Kind: "validation"})
		return nil, false
	}
	return &in, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
