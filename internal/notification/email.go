package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// EmailNotifier renders the embedded templates and hands them to a Sender.
type EmailNotifier struct {
	sender Sender
	log    *zap.Logger
}

func NewEmailNotifier(sender Sender, log *zap.Logger) *EmailNotifier {
	return &EmailNotifier{sender: sender, log: log.Named("notification")}
}

func (n *EmailNotifier) InvoiceSent(ctx context.Context, msg InvoiceSent) error {
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		n.log.Debug("invoice sent without recipient, skipping email",
			zap.String("invoice_id", msg.InvoiceID.String()),
		)
		return nil
	}

	data := map[string]any{
		"InvoiceNumber": msg.InvoiceNumber,
		"AmountDue":     msg.AmountDue,
		"ViewURL":       msg.ViewURL,
		"DueDate":       "",
	}
	if !msg.DueDate.IsZero() {
		data["DueDate"] = msg.DueDate.Format("Jan 2, 2006")
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "invoice_sent.html", data); err != nil {
		return fmt.Errorf("render invoice_sent: %w", err)
	}
	subject := fmt.Sprintf("Invoice %s", msg.InvoiceNumber)
	return n.sender.Send(ctx, []string{recipient}, subject, body.String())
}
