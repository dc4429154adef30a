package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return m.Called(ctx, to, subject, htmlBody).Error(0)
}

func invoiceSentFixture() InvoiceSent {
	return InvoiceSent{
		BusinessID:    snowflake.ID(1),
		InvoiceID:     snowflake.ID(2),
		InvoiceNumber: "INV-00007",
		Recipient:     "client@example.com",
		ViewURL:       "https://app.example.com/invoices/view?token=abc",
		AmountDue:     "$135.00",
		DueDate:       time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestInvoiceSentRendersTemplate(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.Anything, []string{"client@example.com"}, "Invoice INV-00007",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "$135.00") &&
				strings.Contains(body, "Apr 30, 2026") &&
				strings.Contains(body, "token=abc")
		}),
	).Return(nil).Once()

	n := NewEmailNotifier(sender, zap.NewNop())
	require.NoError(t, n.InvoiceSent(context.Background(), invoiceSentFixture()))
	sender.AssertExpectations(t)
}

func TestInvoiceSentPropagatesSenderError(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	n := NewEmailNotifier(sender, zap.NewNop())
	assert.EqualError(t, n.InvoiceSent(context.Background(), invoiceSentFixture()), "smtp down")
}

func TestInvoiceSentWithoutRecipientIsSkipped(t *testing.T) {
	sender := new(mockSender)
	n := NewEmailNotifier(sender, zap.NewNop())
	require.NoError(t, n.InvoiceSent(context.Background(), InvoiceSent{InvoiceNumber: "INV-00001"}))
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotMsg []byte
	p := NewSMTP(SMTPConfig{Host: "mail.local", Port: 2525, From: "billing@example.com"})
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotMsg = addr, from, msg
		assert.Nil(t, a)
		return nil
	}

	require.NoError(t, p.Send(context.Background(), []string{"a@example.com"}, "Hello", "<p>hi</p>"))
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "billing@example.com", gotFrom)
	assert.Contains(t, string(gotMsg), "Subject: Hello\r\n")
	assert.Contains(t, string(gotMsg), "<p>hi</p>")

	assert.Error(t, p.Send(context.Background(), nil, "x", "y"))
}
