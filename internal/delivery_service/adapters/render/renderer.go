package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// Template names looked up in the template store.
const (
	TemplateOrderNotification = "order_notification"
	TemplateWelcomeDM         = "welcome_dm"
)

const orderEmbedColor = 0x2ECC71

// emptyOrderDescription stands in when an operator template renders nothing for an order.
const emptyOrderDescription = "No line items listed."

var errRenderedEmpty = errors.New("rendered empty")

var defaultTemplates = map[string]string{
	TemplateOrderNotification: `{{range .LineItems}}• {{.Quantity}}x {{.Title}}{{if .Variant}} ({{.Variant}}){{end}} ({{.Price}})
{{else}}No line items listed.{{end}}`,
	TemplateWelcomeDM: `Welcome to the community, <@{{.UserID}}>! Thanks for being a verified customer. ` +
		`Order updates are posted in the orders channel and our team is happy to help with anything else.`,
}

// TemplateStore returns an operator-edited template body, or "" when none is stored.
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (string, error)
}

// Renderer turns typed queue payloads into chat messages.
type Renderer struct {
	store  TemplateStore
	logger *slog.Logger
}

// NewRenderer creates a Renderer. store may be nil, in which case built-in templates are used.
func NewRenderer(store TemplateStore, logger *slog.Logger) *Renderer {
	return &Renderer{store: store, logger: logger.With("adapter", "render")}
}

// Render builds the outbound message for p. Template and content problems wrap
// domain.ErrUndeliverable; a failing template store is returned as is so the
// attempt is retried.
func (r *Renderer) Render(ctx context.Context, p domain.Payload) (domain.OutboundMessage, error) {
	switch v := p.(type) {
	case domain.OrderNotificationPayload:
		return r.renderOrder(ctx, v)
	case domain.AutoDirectMessagePayload:
		name := v.Template
		if name == "" {
			name = TemplateWelcomeDM
		}
		content, err := r.execute(ctx, name, v)
		if err != nil {
			return domain.OutboundMessage{}, err
		}
		return domain.OutboundMessage{Content: content}, nil
	case domain.CustomDirectMessagePayload:
		return plainContent(v.Content)
	case domain.CustomChannelMessagePayload:
		return plainContent(v.Content)
	default:
		return domain.OutboundMessage{}, fmt.Errorf("%w: no renderer for %T", domain.ErrUndeliverable, p)
	}
}

func (r *Renderer) renderOrder(ctx context.Context, p domain.OrderNotificationPayload) (domain.OutboundMessage, error) {
	desc, err := r.execute(ctx, TemplateOrderNotification, p)
	switch {
	case errors.Is(err, errRenderedEmpty):
		// The embed still carries the order number and total.
		desc = emptyOrderDescription
	case err != nil:
		return domain.OutboundMessage{}, err
	}

	embed := &domain.Embed{
		Title:       "New order " + p.OrderNumber,
		Description: strings.TrimSpace(desc),
		Color:       orderEmbedColor,
		Fields: []domain.EmbedField{
			{Name: "Total", Value: strings.TrimSpace(p.TotalPrice + " " + p.Currency), Inline: true},
		},
	}
	if p.CustomerName != "" {
		embed.Fields = append(embed.Fields, domain.EmbedField{Name: "Customer", Value: p.CustomerName, Inline: true})
	}
	if p.Source == "reconciliation_sync" {
		embed.Fields = append(embed.Fields, domain.EmbedField{Name: "Note", Value: "Recovered by offline sync"})
	}
	return domain.OutboundMessage{Embed: embed}, nil
}

func (r *Renderer) execute(ctx context.Context, name string, data any) (string, error) {
	body, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("%w: parse template %s: %v", domain.ErrUndeliverable, name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute template %s: %v", domain.ErrUndeliverable, name, err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("%w: template %s %w", domain.ErrUndeliverable, name, errRenderedEmpty)
	}
	return buf.String(), nil
}

func (r *Renderer) lookup(ctx context.Context, name string) (string, error) {
	if r.store != nil {
		body, err := r.store.GetTemplate(ctx, name)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error loading message template", "error", err, "template", name)
			return "", fmt.Errorf("load template %s: %w", name, err)
		}
		if body != "" {
			return body, nil
		}
	}
	body, ok := defaultTemplates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown template %q", domain.ErrUndeliverable, name)
	}
	return body, nil
}

func plainContent(content string) (domain.OutboundMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.OutboundMessage{}, fmt.Errorf("%w: empty message content", domain.ErrUndeliverable)
	}
	return domain.OutboundMessage{Content: content}, nil
}

// ErrUnknownTemplate is returned by ValidateTemplate for names the renderer never looks up.
var ErrUnknownTemplate = errors.New("unknown template name")

var sampleData = map[string]any{
	TemplateOrderNotification: domain.OrderNotificationPayload{
		OrderID: "1", OrderNumber: "#1001", CustomerName: "Sample Customer", TotalPrice: "10.00", Currency: "USD",
		LineItems: []domain.LineItem{{Title: "Sample", Variant: "Large", Quantity: 1, Price: "10.00"}},
	},
	TemplateWelcomeDM: domain.AutoDirectMessagePayload{UserID: "1", Template: TemplateWelcomeDM},
}

// ValidateTemplate checks that body parses and renders against sample data for name,
// so an operator cannot save a template every later delivery would fail on.
func ValidateTemplate(name, body string) error {
	data, ok := sampleData[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	if strings.TrimSpace(buf.String()) == "" {
		return errors.New("template renders empty")
	}
	return nil
}

// DefaultTemplates returns a copy of the built-in template bodies.
func DefaultTemplates() map[string]string {
	out := make(map[string]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		out[k] = v
	}
	return out
}
