package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/pkg/errors"

	"verbapost/internal/pkg/httpclient"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

const lobService = "lob"

// LobMailAdapter 是 port.MailService 的 Lob 实现，PDF 从 BlobStore 读取后以 multipart 上传。
type LobMailAdapter struct {
	client  *httpclient.Client
	blobs   port.BlobStore
	baseURL string
	apiKey  string
	color   bool
}

func NewLobMailAdapter(client *httpclient.Client, blobs port.BlobStore, baseURL, apiKey string, color bool) *LobMailAdapter {
	return &LobMailAdapter{
		client:  client,
		blobs:   blobs,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		color:   color,
	}
}

func (a *LobMailAdapter) Submit(ctx context.Context, req port.MailRequest) (*port.MailConfirmation, error) {
	rc, err := a.blobs.Open(ctx, req.DocumentRef)
	if err != nil {
		return nil, errors.Wrapf(err, "open document %s", req.DocumentRef)
	}
	pdf, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "read document %s", req.DocumentRef)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"description": req.Description,
		"use_type":    "operational",
		"color":       boolString(a.color),
	}
	addAddress(fields, "to", req.To)
	addAddress(fields, "from", req.From)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", path.Base(req.DocumentRef))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(pdf); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	contentType := mw.FormDataContentType()

	data, err := a.client.Do(ctx, lobService, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/letters", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.SetBasicAuth(a.apiKey, "")
		httpReq.Header.Set("Content-Type", contentType)
		if req.IdempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
		}
		return httpReq, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit letter")
	}

	var resp struct {
		ID                   string `json:"id"`
		ExpectedDeliveryDate string `json:"expected_delivery_date"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "decode letter response")
	}
	if resp.ID == "" {
		return nil, errors.New("letter response missing id")
	}
	return &port.MailConfirmation{ID: resp.ID, ExpectedDelivery: resp.ExpectedDeliveryDate}, nil
}

func addAddress(fields map[string]string, prefix string, addr domain.Address) {
	name := addr.Name
	if name == "" {
		name = "Resident"
	}
	fields[prefix+"[name]"] = name
	fields[prefix+"[address_line1]"] = addr.Street
	fields[prefix+"[address_city]"] = addr.City
	fields[prefix+"[address_state]"] = addr.State
	fields[prefix+"[address_zip]"] = addr.Zip
	fields[prefix+"[address_country]"] = "US"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
