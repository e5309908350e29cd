// Package pricing 负责服务等级定价、超额录音判定与收银台幂等键。
package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"verbapost/internal/service/order/domain"
)

// DefaultOverageRule 是默认的超额判定表达式。
const DefaultOverageRule = "duration_seconds > included_seconds || size_bytes > included_bytes"

// Config 金额单位为美分。
type Config struct {
	StandardCents   int64
	HeirloomCents   int64
	CivicCents      int64
	OverageCents    int64
	IncludedSeconds float64
	IncludedBytes   int64
	MinAudioBytes   int64
	OverageRule     string
}

// Policy 是编译后的定价策略，可并发使用。
type Policy struct {
	cfg     Config
	program cel.Program
}

// NewPolicy 编译超额判定规则。规则可以引用 duration_seconds, size_bytes,
// tier, included_seconds, included_bytes 五个变量，结果必须为 bool。
func NewPolicy(cfg Config) (*Policy, error) {
	rule := cfg.OverageRule
	if strings.TrimSpace(rule) == "" {
		rule = DefaultOverageRule
	}

	env, err := cel.NewEnv(
		cel.Variable("duration_seconds", cel.DoubleType),
		cel.Variable("size_bytes", cel.IntType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("included_seconds", cel.DoubleType),
		cel.Variable("included_bytes", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("pricing: cel env: %w", err)
	}
	ast, iss := env.Compile(rule)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("pricing: compile overage rule %q: %w", rule, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("pricing: program overage rule: %w", err)
	}
	cfg.OverageRule = rule
	return &Policy{cfg: cfg, program: prg}, nil
}

// PriceOf 返回服务等级的价格。
func (p *Policy) PriceOf(tier domain.Tier) (int64, error) {
	switch tier {
	case domain.TierStandard:
		return p.cfg.StandardCents, nil
	case domain.TierHeirloom:
		return p.cfg.HeirloomCents, nil
	case domain.TierCivic:
		return p.cfg.CivicCents, nil
	}
	return 0, &domain.ValidationError{Field: "tier", Reason: "unknown service tier " + string(tier)}
}

// OverageFee 返回超额附加费，0 表示免费。
func (p *Policy) OverageFee() int64 { return p.cfg.OverageCents }

// MinAudioBytes 返回可接受录音的最小字节数。
func (p *Policy) MinAudioBytes() int64 { return p.cfg.MinAudioBytes }

// ExceedsAllowance 执行超额规则。
func (p *Policy) ExceedsAllowance(tier domain.Tier, durationSeconds float64, sizeBytes int64) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"duration_seconds": durationSeconds,
		"size_bytes":       sizeBytes,
		"tier":             string(tier),
		"included_seconds": p.cfg.IncludedSeconds,
		"included_bytes":   p.cfg.IncludedBytes,
	})
	if err != nil {
		return false, fmt.Errorf("pricing: evaluate overage rule: %w", err)
	}
	exceeds, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("pricing: overage rule returned %T, want bool", out.Value())
	}
	return exceeds, nil
}

// CheckoutKey 是主订单收银台会话的幂等键：hash(tier | price)。
func CheckoutKey(tier domain.Tier, cents int64) string {
	return IdempotencyKey(string(tier), strconv.FormatInt(cents, 10))
}

// OverageKey 是超额附加费会话的幂等键。
func OverageKey(tier domain.Tier, cents int64) string {
	return IdempotencyKey(string(tier), "overage", strconv.FormatInt(cents, 10))
}

// IdempotencyKey 返回各部分以 "|" 连接后的 SHA-256 十六进制摘要。
func IdempotencyKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// FormatCents 把美分格式化为 "$2.99"。
func FormatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
