package adapter

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

const footerText = "Dictated via VerbaPost.com"

// FpdfRenderer 是 port.Renderer 的 fpdf 实现，生成的 PDF 写入 BlobStore。
type FpdfRenderer struct {
	blobs           port.BlobStore
	handwritingFont string // Heirloom 使用的手写体 TTF，可为空
	unicodeFont     string // 非拉丁文字使用的 TTF，可为空
}

func NewFpdfRenderer(blobs port.BlobStore, handwritingFont, unicodeFont string) *FpdfRenderer {
	return &FpdfRenderer{blobs: blobs, handwritingFont: handwritingFont, unicodeFont: unicodeFont}
}

func (r *FpdfRenderer) Render(ctx context.Context, req port.RenderRequest) (string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(22, 20, 22)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, footerText, "", 0, "C", false, 0, "")
	})

	family, tr := r.chooseFont(pdf, req)
	if pdf.Err() {
		return "", errors.Wrap(pdf.Error(), "load font")
	}
	pdf.AddPage()

	// 寄件人地址在左上角
	pdf.SetFont(family, "", 10)
	pdf.MultiCell(90, 5, tr(req.SenderBlock), "", "L", false)
	pdf.Ln(8)

	pdf.CellFormat(0, 5, tr(req.Date.Format("January 2, 2006")), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.MultiCell(90, 5, tr(req.RecipientBlock), "", "L", false)
	pdf.Ln(10)

	bodySize := 11.0
	if req.Style == domain.TierHeirloom && r.handwritingFont != "" {
		bodySize = 14
	}
	pdf.SetFont(family, "", bodySize)
	for _, para := range strings.Split(strings.TrimSpace(req.Body), "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pdf.MultiCell(0, bodySize*0.5, tr(para), "", "L", false)
		pdf.Ln(3)
	}

	if req.SignatureRef != "" {
		if err := r.drawSignature(ctx, pdf, req.SignatureRef); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order", req.OrderID).Msg("signature skipped")
		}
	}

	if pdf.Err() {
		return "", errors.Wrap(pdf.Error(), "layout letter")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return "", errors.Wrap(err, "write pdf")
	}
	ref, err := r.blobs.Put(ctx, "orders/"+req.OrderID+"/"+req.DocumentName, &buf)
	if err != nil {
		return "", errors.Wrapf(err, "store %s", req.DocumentName)
	}
	return ref, nil
}

// chooseFont 返回字体族以及文本转换函数。内置字体只支持 cp1252，需要转换编码；
// TTF 字体按 UTF-8 直接写入。
func (r *FpdfRenderer) chooseFont(pdf *fpdf.Fpdf, req port.RenderRequest) (string, func(string) string) {
	identity := func(s string) string { return s }
	switch {
	case !isLatinScript(req.Language) && r.unicodeFont != "":
		pdf.AddUTF8Font("Unicode", "", r.unicodeFont)
		return "Unicode", identity
	case req.Style == domain.TierHeirloom && r.handwritingFont != "":
		pdf.AddUTF8Font("Handwriting", "", r.handwritingFont)
		return "Handwriting", identity
	}
	family := "Helvetica"
	if req.Style == domain.TierHeirloom {
		family = "Times"
	}
	return family, pdf.UnicodeTranslatorFromDescriptor("")
}

func (r *FpdfRenderer) drawSignature(ctx context.Context, pdf *fpdf.Fpdf, ref string) error {
	rc, err := r.blobs.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	info := pdf.RegisterImageOptionsReader("signature", opts, bytes.NewReader(data))
	if pdf.Err() || info == nil {
		err := pdf.Error()
		pdf.ClearError()
		if err == nil {
			err = errors.New("unreadable image")
		}
		return errors.Wrap(err, "decode signature")
	}
	pdf.Ln(4)
	pdf.ImageOptions("signature", pdf.GetX(), pdf.GetY(), 50, 0, true, opts, 0, "")
	return nil
}
