package domain

import "strings"

// Tier 是服务等级，决定履约方式与收件人数量
type Tier string

const (
	TierStandard Tier = "STANDARD" // 单一收件人，机器打印并邮寄
	TierHeirloom Tier = "HEIRLOOM" // 单一收件人，人工手工寄送
	TierCivic    Tier = "CIVIC"    // 收件人为寄件人所在选区的民选官员
)

// ParseTier 大小写不敏感地解析服务等级。
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TierStandard, TierHeirloom, TierCivic:
		return t, nil
	}
	return "", &ValidationError{Field: "tier", Reason: "unknown service tier " + s}
}

// Mailed 报告该等级是否通过邮寄服务自动投递。
func (t Tier) Mailed() bool { return t != TierHeirloom }

// RequiresRecipient 报告该等级是否需要用户填写收件人地址。
func (t Tier) RequiresRecipient() bool { return t != TierCivic }
