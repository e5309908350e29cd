package infrastructure

import (
	"database/sql"
	"time"

	"verbapost/internal/service/order/domain"
)

// OrderModel 对应数据库中的 letter_order 表。
// 嵌套结构以 JSON 列保存，订单只按 ID 与履约状态查询。
type OrderModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	AccountID string `gorm:"size:64;index"`
	Email     string `gorm:"size:255"`
	Stage     string `gorm:"size:32;index"`
	Tier      string `gorm:"size:16;index:idx_fulfilment,priority:1"`
	Language  string `gorm:"size:64"`

	Sender    domain.Address  `gorm:"serializer:json;type:text"`
	Recipient *domain.Address `gorm:"serializer:json;type:text"`

	SignatureRef string                  `gorm:"size:512"`
	Checkout     *domain.CheckoutSession `gorm:"serializer:json;type:text"`

	Audio           *domain.AudioCapture    `gorm:"serializer:json;type:text"`
	OverageAgreed   bool
	OverageCheckout *domain.CheckoutSession `gorm:"serializer:json;type:text"`

	Transcript string `gorm:"type:mediumtext"`

	Recipients    []domain.Recipient `gorm:"serializer:json;type:mediumtext"`
	Deliveries    []domain.Delivery  `gorm:"serializer:json;type:mediumtext"`
	ArchiveRef    string             `gorm:"size:512"`
	ArchivedCount int
	Fulfilment    string `gorm:"size:16;index:idx_fulfilment,priority:2"`

	LastError string `gorm:"type:text"`
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "letter_order"
}

// AccountModel 对应 account 表，保存账号与最近一次使用的寄件地址
type AccountModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"uniqueIndex;size:255"`
	SenderName   sql.NullString
	SenderStreet sql.NullString
	SenderCity   sql.NullString
	SenderState  sql.NullString
	SenderZip    sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AccountModel) TableName() string {
	return "account"
}
