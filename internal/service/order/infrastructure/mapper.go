package infrastructure

import (
	"database/sql"

	"verbapost/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}
	return &domain.Order{
		ID:              m.ID,
		AccountID:       m.AccountID,
		Email:           m.Email,
		Stage:           domain.Stage(m.Stage),
		Tier:            domain.Tier(m.Tier),
		Language:        m.Language,
		Sender:          m.Sender,
		Recipient:       m.Recipient,
		SignatureRef:    m.SignatureRef,
		Checkout:        m.Checkout,
		Audio:           m.Audio,
		OverageAgreed:   m.OverageAgreed,
		OverageCheckout: m.OverageCheckout,
		Transcript:      m.Transcript,
		Recipients:      m.Recipients,
		Deliveries:      m.Deliveries,
		ArchiveRef:      m.ArchiveRef,
		ArchivedCount:   m.ArchivedCount,
		Fulfilment:      domain.FulfilmentStatus(m.Fulfilment),
		LastError:       m.LastError,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型
func FromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:              o.ID,
		AccountID:       o.AccountID,
		Email:           o.Email,
		Stage:           string(o.Stage),
		Tier:            string(o.Tier),
		Language:        o.Language,
		Sender:          o.Sender,
		Recipient:       o.Recipient,
		SignatureRef:    o.SignatureRef,
		Checkout:        o.Checkout,
		Audio:           o.Audio,
		OverageAgreed:   o.OverageAgreed,
		OverageCheckout: o.OverageCheckout,
		Transcript:      o.Transcript,
		Recipients:      o.Recipients,
		Deliveries:      o.Deliveries,
		ArchiveRef:      o.ArchiveRef,
		ArchivedCount:   o.ArchivedCount,
		Fulfilment:      string(o.Fulfilment),
		LastError:       o.LastError,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// savedAddress 返回账号保存的寄件地址，没有保存时返回 nil
func savedAddress(m *AccountModel) *domain.Address {
	if !m.SenderZip.Valid || m.SenderZip.String == "" {
		return nil
	}
	return &domain.Address{
		Name:   m.SenderName.String,
		Street: m.SenderStreet.String,
		City:   m.SenderCity.String,
		State:  m.SenderState.String,
		Zip:    m.SenderZip.String,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
