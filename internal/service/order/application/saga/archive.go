package saga

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"verbapost/internal/service/order/domain"
)

// ArchiveHandler 在存在多份文档时打包为一个 zip 供下载。
type ArchiveHandler struct {
	NextHandler
}

func (h *ArchiveHandler) Handle(fc *FinalizeContext) error {
	ctx, span := fc.Tracer.Start(fc.Ctx, "saga.Archive")
	defer span.End()

	o := fc.Order
	artifacts := o.Artifacts()
	if len(artifacts) < 2 || o.ArchivedCount == len(artifacts) {
		return h.executeNext(fc)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range artifacts {
		if err := copyEntry(fc, zw, a); err != nil {
			span.RecordError(err)
			return &domain.CollaboratorError{Collaborator: "blob-store", Op: "archive", Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return &domain.CollaboratorError{Collaborator: "blob-store", Op: "archive", Err: err}
	}

	name := "letters.zip"
	if o.Tier == domain.TierCivic {
		name = "Civic.zip"
	}
	ref, err := fc.Blobs.Put(ctx, "orders/"+o.ID+"/"+name, &buf)
	if err != nil {
		span.RecordError(err)
		return &domain.CollaboratorError{Collaborator: "blob-store", Op: "archive", Err: err}
	}
	o.ArchiveRef = ref
	o.ArchivedCount = len(artifacts)
	return h.executeNext(fc)
}

func copyEntry(fc *FinalizeContext, zw *zip.Writer, d domain.Delivery) error {
	rc, err := fc.Blobs.Open(fc.Ctx, d.DocumentRef)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := zw.Create(d.Recipient.DocumentName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy %s: %w", d.DocumentRef, err)
	}
	return nil
}
