// Package mailer dispatches rendered worksheets to parents as email
// attachments through the SendGrid API. Sends are synchronous and
// fire-and-forget: a failure is reported to the operator, who retries
// manually.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/tclam/worksheet/internal/i18n"
	"github.com/tclam/worksheet/internal/model"
	"github.com/tclam/worksheet/internal/render"
)

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

// placeholders are roster cell values that mean "no CC address".
var placeholders = map[string]bool{
	"":     true,
	"n/a":  true,
	"nan":  true,
	"none": true,
}

// InvalidAddressError marks a recipient that failed validation before
// any delivery attempt. The surrounding loop skips the row and
// continues.
type InvalidAddressError struct {
	Addr string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid email address %q", e.Addr)
}

// ValidAddress reports whether s looks like a deliverable address.
func ValidAddress(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// UsableCC reports whether cc is a real address worth copying:
// not a placeholder, contains "@", and differs from the recipient.
func UsableCC(cc, recipient string) bool {
	c := strings.ToLower(strings.TrimSpace(cc))
	if placeholders[c] {
		return false
	}
	if !strings.Contains(c, "@") {
		return false
	}
	return c != strings.ToLower(strings.TrimSpace(recipient))
}

// Sender is the outbound email dependency of the distribution loop.
type Sender interface {
	SendWorksheet(ctx context.Context, student model.Student, school, level string, pdf []byte) error
}

// Mailer sends worksheet emails through SendGrid.
type Mailer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// New creates a Mailer with the given API key and sender identity.
func New(apiKey, fromEmail, fromName string) *Mailer {
	return &Mailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SendWorksheet emails one student's worksheet PDF to the parent,
// CCing the teacher when the roster carries a usable address. The
// recipient is validated before any API call.
func (m *Mailer) SendWorksheet(ctx context.Context, student model.Student, school, level string, pdf []byte) error {
	recipient := strings.TrimSpace(student.ParentEmail)
	if !ValidAddress(recipient) {
		return &InvalidAddressError{Addr: recipient}
	}

	data := map[string]any{
		"Name":   student.Name,
		"School": school,
		"Level":  level,
	}

	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail(m.fromName, m.fromEmail))
	msg.Subject = i18n.Td(ctx, "EmailSubject", data)
	msg.AddContent(mail.NewContent("text/html", i18n.Td(ctx, "EmailBody", data)))

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(student.Name, recipient))
	if UsableCC(student.TeacherEmail, recipient) {
		p.AddCCs(mail.NewEmail("", strings.TrimSpace(student.TeacherEmail)))
	}
	msg.AddPersonalizations(p)

	att := mail.NewAttachment()
	att.SetContent(base64.StdEncoding.EncodeToString(pdf))
	att.SetType("application/pdf")
	att.SetFilename(render.SafeName(student.Name) + "_Worksheet.pdf")
	att.SetDisposition("attachment")
	msg.AddAttachment(att)

	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", recipient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send email to %s: HTTP %d: %s", recipient, resp.StatusCode, resp.Body)
	}
	return nil
}
