package domain

import (
	"strings"

	"verbapost/internal/service/order/domain/zipcode"
)

// AddressRole 区分寄件人（回邮地址）与收件人
type AddressRole int

const (
	RoleSender AddressRole = iota + 1
	RoleRecipient
)

func (r AddressRole) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "recipient"
}

// ValidateAddress 校验地址格式及 ZIP 与州的一致性，无副作用、不访问网络。
// 回邮地址的姓名可以为空。返回 nil 表示有效，否则为 *ValidationError。
func ValidateAddress(addr Address, role AddressRole) error {
	addr = addr.Normalize()
	prefix := role.String() + "."

	required := []struct {
		field string
		value string
	}{
		{"name", addr.Name},
		{"street", addr.Street},
		{"city", addr.City},
		{"state", addr.State},
		{"zip", addr.Zip},
	}
	for _, f := range required {
		if f.field == "name" && role == RoleSender {
			continue
		}
		if f.value == "" {
			return &ValidationError{Field: prefix + f.field, Reason: "is required"}
		}
	}

	if len(addr.Zip) != 5 || strings.Trim(addr.Zip, "0123456789") != "" {
		return &ValidationError{Field: prefix + "zip", Reason: "must be exactly 5 digits"}
	}
	if len(addr.State) != 2 {
		return &ValidationError{Field: prefix + "state", Reason: "must be a 2-letter state code"}
	}

	expected, ok := zipcode.Default().StateOf(addr.Zip)
	if !ok {
		return &ValidationError{Field: prefix + "zip", Reason: "unknown zip code"}
	}
	if !strings.EqualFold(expected, addr.State) {
		return &ValidationError{Field: prefix + "zip", Reason: "zip/state mismatch", Expected: expected}
	}
	return nil
}
