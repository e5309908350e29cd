// internal/service/order/domain/event.go
package domain

import "time"

// LetterFinalized 在订单进入 Complete 后发布
type LetterFinalized struct {
	OrderID    string           `json:"orderId"`
	AccountID  string           `json:"accountId,omitempty"`
	Tier       Tier             `json:"tier"`
	Recipients int              `json:"recipients"`
	Mailed     []string         `json:"mailed"`
	MailFailed []string         `json:"mailFailed,omitempty"`
	Fulfilment FulfilmentStatus `json:"fulfilment"`
	At         time.Time        `json:"at"`
}

// HeirloomQueued 通知人工履约团队有新的 Heirloom 信件待打印
type HeirloomQueued struct {
	OrderID     string    `json:"orderId"`
	Email       string    `json:"email,omitempty"`
	DocumentRef string    `json:"documentRef"`
	At          time.Time `json:"at"`
}

// NewLetterFinalized 从已完成的订单构造事件。
func NewLetterFinalized(o *Order, at time.Time) *LetterFinalized {
	e := &LetterFinalized{
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		Tier:       o.Tier,
		Recipients: len(o.Recipients),
		Mailed:     []string{},
		Fulfilment: o.Fulfilment,
		At:         at,
	}
	for _, d := range o.Deliveries {
		switch {
		case d.Mailed:
			e.Mailed = append(e.Mailed, d.Recipient.Name)
		case d.MailError != "":
			e.MailFailed = append(e.MailFailed, d.Recipient.Name)
		}
	}
	return e
}
