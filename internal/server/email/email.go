// Package email sends transactional mail through SendGrid.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	ErrKeyMissing           = errors.New("sendgrid api key is not set")
	ErrInvalidMailSender    = errors.New("invalid mail sender")
	ErrInvalidMailRecipient = errors.New("invalid mail recipient")
)

type EmailInfo struct {
	FromName  string
	FromEmail string
	ToName    string
	ToEmail   string
	Subject   string
	HTMLBody  string
}

func Send(ctx context.Context, data *EmailInfo) error {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	if apiKey == "" {
		return ErrKeyMissing
	}

	if data.FromEmail == "" {
		return ErrInvalidMailSender
	}
	if data.ToEmail == "" {
		return ErrInvalidMailRecipient
	}
	if data.FromName == "" {
		data.FromName = data.FromEmail
	}
	if data.ToName == "" {
		data.ToName = data.ToEmail
	}

	from := mail.NewEmail(data.FromName, data.FromEmail)
	to := mail.NewEmail(data.ToName, data.ToEmail)
	message := mail.NewSingleEmail(from, data.Subject, to, "", data.HTMLBody)

	client := sendgrid.NewSendClient(apiKey)
	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		slog.Error("failed to send email", "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Debug("email sent", "to", data.ToEmail, "status", resp.StatusCode, "messageId", resp.Headers["X-Message-Id"])
	return nil
}
