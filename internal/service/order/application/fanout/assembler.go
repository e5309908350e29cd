// Package fanout 把一封信展开为按收件人划分的投递任务（生成 PDF + 邮寄），并汇总结果。
package fanout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

// Job 是一次扇出的只读输入。
type Job struct {
	OrderID      string
	Tier         domain.Tier
	Language     string
	Sender       domain.Address
	Body         string
	SignatureRef string
	Recipients   []domain.Recipient
	// Previous 是之前尝试的结果：已生成的文档不再生成，已寄出的不再寄送。
	Previous []domain.Delivery
	Date     time.Time
}

// Result 是按收件人顺序排列的汇总结果。
type Result struct {
	Deliveries []domain.Delivery
}

// Artifacts 返回已生成文档的数量。
func (r *Result) Artifacts() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.DocumentRef != "" {
			n++
		}
	}
	return n
}

// RenderFailures 返回未能生成文档的收件人姓名。
func (r *Result) RenderFailures() []string {
	var names []string
	for _, d := range r.Deliveries {
		if d.DocumentRef == "" {
			names = append(names, d.Recipient.Name)
		}
	}
	return names
}

// MailOutcome 返回寄送成功与失败的收件人姓名（未尝试寄送的不计入）。
func (r *Result) MailOutcome() (succeeded, failed []string) {
	for _, d := range r.Deliveries {
		switch {
		case d.Mailed:
			succeeded = append(succeeded, d.Recipient.Name)
		case d.MailError != "":
			failed = append(failed, d.Recipient.Name)
		}
	}
	return succeeded, failed
}

// Assembler 并发执行每个收件人的 render + submit。
type Assembler struct {
	renderer    port.Renderer
	mailer      port.MailService
	tracer      trace.Tracer
	concurrency int
}

// Option 定制 Assembler。
type Option func(*Assembler)

// WithConcurrency 设置同时处理的收件人上限。
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func NewAssembler(renderer port.Renderer, mailer port.MailService, tracer trace.Tracer, opts ...Option) *Assembler {
	a := &Assembler{renderer: renderer, mailer: mailer, tracer: tracer, concurrency: 4}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 处理所有收件人。单个收件人的失败不会中断其他收件人；
// 结果按收件人顺序汇总，与并发执行顺序无关。
func (a *Assembler) Run(ctx context.Context, job Job) *Result {
	ctx, span := a.tracer.Start(ctx, "fanout.Run")
	defer span.End()

	recipients := Prepare(job.Recipients)
	previous := make(map[string]domain.Delivery, len(job.Previous))
	for _, d := range job.Previous {
		previous[d.Recipient.Key] = d
	}

	span.SetAttributes(
		attribute.String("order.id", job.OrderID),
		attribute.Int("fanout.recipients", len(recipients)),
	)

	deliveries := make([]domain.Delivery, len(recipients))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, r := range recipients {
		g.Go(func() error {
			d, ok := previous[r.Key]
			if !ok {
				d = domain.Delivery{}
			}
			d.Recipient = r
			deliveries[i] = a.deliver(ctx, job, d)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Deliveries: deliveries}
	if failed := res.RenderFailures(); len(failed) > 0 {
		span.SetStatus(codes.Error, "render failed for "+strings.Join(failed, ", "))
	}
	return res
}

func (a *Assembler) deliver(ctx context.Context, job Job, d domain.Delivery) domain.Delivery {
	r := d.Recipient
	log := logger.Ctx(ctx).With().Str("order", job.OrderID).Str("recipient", r.Name).Logger()

	if d.DocumentRef == "" {
		ref, err := a.renderer.Render(ctx, port.RenderRequest{
			OrderID:        job.OrderID,
			DocumentName:   r.DocumentName,
			Body:           job.Body,
			RecipientBlock: r.Address.Block(),
			SenderBlock:    job.Sender.Block(),
			Style:          job.Tier,
			Language:       job.Language,
			SignatureRef:   job.SignatureRef,
			Date:           job.Date,
		})
		if err != nil {
			log.Error().Err(err).Str("collaborator", "pdf-renderer").Msg("render failed")
			d.RenderError = err.Error()
			return d
		}
		d.DocumentRef = ref
		d.RenderError = ""
	}

	if !job.Tier.Mailed() || d.Mailed {
		return d
	}

	conf, err := a.mailer.Submit(ctx, port.MailRequest{
		DocumentRef:    d.DocumentRef,
		To:             r.Address,
		From:           job.Sender,
		Description:    "VerbaPost letter " + job.OrderID,
		IdempotencyKey: MailKey(job.OrderID, r.Key),
	})
	if err != nil {
		log.Error().Err(err).Str("collaborator", "mail").Msg("mail submission failed")
		d.MailError = err.Error()
		return d
	}
	d.Mailed = true
	d.MailError = ""
	d.Confirmation = conf.ID
	log.Info().Str("confirmation", conf.ID).Msg("letter submitted for mailing")
	return d
}

// MailKey 是某订单某收件人的邮寄幂等键。
func MailKey(orderID, recipientKey string) string {
	sum := sha256.Sum256([]byte(orderID + "|" + recipientKey))
	return hex.EncodeToString(sum[:])
}

// FromRepresentatives 把目录查询结果转换为收件人，并去重、命名。
func FromRepresentatives(reps []port.Representative) []domain.Recipient {
	recipients := make([]domain.Recipient, 0, len(reps))
	for _, rep := range reps {
		recipients = append(recipients, domain.Recipient{
			Name:    strings.TrimSpace(rep.Name),
			Title:   rep.Title,
			Address: rep.Address,
		})
	}
	return Prepare(recipients)
}

// Prepare 按规范化全名去重（保留首次出现），并分配确定性的文件名。
// 对同一输入重复调用得到相同结果。
func Prepare(recipients []domain.Recipient) []domain.Recipient {
	seen := make(map[string]bool, len(recipients))
	out := make([]domain.Recipient, 0, len(recipients))
	for _, r := range recipients {
		key := NormalizeName(r.Name)
		if key == "" {
			key = NormalizeName(r.Address.Block())
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		r.Key = key
		out = append(out, r)
	}

	// 后缀名可能与其他收件人的原始文件名相同，因此按已分配的全部名字判重
	assigned := make(map[string]bool, len(out))
	for i := range out {
		base := slug(out[i].Name)
		name := base
		for n := 2; assigned[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		assigned[name] = true
		out[i].DocumentName = name + ".pdf"
	}
	return out
}

// NormalizeName 小写、去掉标点、合并空白，例如 "Sen.  Marsha Blackburn" -> "sen marsha blackburn"。
func NormalizeName(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			space = true
		}
	}
	return b.String()
}

func slug(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = false
			b.WriteRune(r)
			continue
		}
		if r != '.' && r != '\'' {
			underscore = true
		}
	}
	if b.Len() == 0 {
		return "letter"
	}
	return b.String()
}
