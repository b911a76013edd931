package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends a text + HTML email through an SMTP relay.
type EmailNotifier struct {
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	policy   *bluemonday.Policy
	sendMail sendMailFunc
}

// EmailOpts holds parameters for creating an EmailNotifier.
type EmailOpts struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(opts EmailOpts) (*EmailNotifier, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("notify: email: host is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("notify: email: from is required")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("notify: email: at least one recipient is required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	var auth smtp.Auth
	if opts.Username != "" {
		auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return &EmailNotifier{
		addr:     net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		auth:     auth,
		from:     opts.From,
		to:       opts.To,
		policy:   bluemonday.UGCPolicy(),
		sendMail: smtp.SendMail,
	}, nil
}

func (e *EmailNotifier) Name() string { return "email" }

// Notify sends msg. smtp.SendMail has no context, so ctx is only checked
// before dialing.
func (e *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := e.build(msg)
	if err != nil {
		return fmt.Errorf("notify: email: %w", err)
	}
	if err := e.sendMail(e.addr, e.auth, e.from, e.to, body); err != nil {
		return fmt.Errorf("notify: email: send: %w", err)
	}
	return nil
}

// html renders the HTML part. Model output is sanitized before it is
// embedded.
func (e *EmailNotifier) html(msg Message) string {
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family: Arial, sans-serif; color: #333;\">\n")
	b.WriteString("<h1 style=\"color: #d9534f;\">Technical Escalation Notice</h1>\n")
	fmt.Fprintf(&b, "<p><strong>Case ID:</strong> %s</p>\n", e.policy.Sanitize(msg.CaseID))
	fmt.Fprintf(&b, "<h3>Reason for Escalation:</h3>\n<p>%s</p>\n", e.policy.Sanitize(msg.Reason))
	b.WriteString("<h3>Case Summary:</h3>\n<p>")
	b.WriteString(strings.ReplaceAll(e.policy.Sanitize(msg.Summary), "\n", "<br>\n"))
	b.WriteString("</p>\n<p>Please review and follow up promptly. Thank you.</p>\n</body></html>\n")
	return b.String()
}

func (e *EmailNotifier) build(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", e.from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject()))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text()},
		{"text/html; charset=utf-8", e.html(msg)},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
