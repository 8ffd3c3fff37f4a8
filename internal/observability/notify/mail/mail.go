// Package mail delivers perfdeck notifications over SMTP.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/smtp"
	"path"
	"strings"
	"time"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/observability/notify"
)

// Config captures the subset of SMTP behaviour we need.
type Config struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	// Store resolves report artifact paths into attachment content.
	Store core.ArtifactStore
	// SendFunc overrides smtp.SendMail (useful for tests).
	SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Sender delivers notification messages as email.
type Sender struct {
	addr     string
	from     string
	auth     smtp.Auth
	store    core.ArtifactStore
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ notify.Notifier = (*Sender)(nil)

// NewSender builds an SMTP sender. Callers should pass a validated config.
func NewSender(cfg Config) (*Sender, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("smtp address is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("smtp from address is required")
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		host := addr
		if i := strings.LastIndex(host, ":"); i > -1 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}

	send := cfg.SendFunc
	if send == nil {
		send = smtp.SendMail
	}

	return &Sender{
		addr:     addr,
		from:     from,
		auth:     auth,
		store:    cfg.Store,
		sendMail: send,
	}, nil
}

// Send composes and delivers one notification email.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		return errors.New("recipient is required")
	}

	subject, body := formatMessage(msg)

	var attachment []byte
	attachmentName := ""
	if msg.Kind == notify.KindReportReady && msg.ReportPath != "" && s.store != nil {
		content, err := s.readArtifact(ctx, msg.ReportPath)
		if err != nil {
			return fmt.Errorf("read report artifact: %w", err)
		}
		attachment = content
		attachmentName = path.Base(msg.ReportPath)
	}

	raw := buildMIME(mimeParams{
		From:           s.from,
		To:             recipient,
		Subject:        subject,
		Body:           body,
		Attachment:     attachment,
		AttachmentName: attachmentName,
	})

	if err := s.sendMail(s.addr, s.auth, s.from, []string{recipient}, raw); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *Sender) readArtifact(ctx context.Context, artifactPath string) ([]byte, error) {
	rc, err := s.store.Open(ctx, artifactPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}

// formatMessage renders the subject and body for one notification kind. The
// report-failure wording must communicate that the test itself ran fine.
func formatMessage(msg notify.Message) (subject, body string) {
	sc := msg.Schedule
	when := msg.OccurredAt
	if when.IsZero() {
		when = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", displayProject(sc))
	fmt.Fprintf(&b, "Schedule: #%d (%s, cron %q)\n", sc.ScheduleID, sc.Subtype, sc.Cron)
	if msg.RunID > 0 {
		fmt.Fprintf(&b, "Execution: #%d\n", msg.RunID)
	}
	fmt.Fprintf(&b, "Time: %s\n\n", when.UTC().Format(time.RFC3339))

	switch msg.Kind {
	case notify.KindRunFailure:
		subject = fmt.Sprintf("[perfdeck] scheduled test failed: %s", displayProject(sc))
		fmt.Fprintf(&b, "The scheduled test could not be executed.\n\nError: %s\n", msg.Error)
	case notify.KindReportReady:
		subject = fmt.Sprintf("[perfdeck] test report ready: %s", displayProject(sc))
		b.WriteString("The scheduled test completed and the report is attached.\n")
	case notify.KindReportFailure:
		subject = fmt.Sprintf("[perfdeck] report generation failed: %s", displayProject(sc))
		b.WriteString("The scheduled test ran, but generating its report failed.\n")
		b.WriteString("The test itself did not fail; only the report could not be produced.\n\n")
		fmt.Fprintf(&b, "Error: %s\n", msg.Error)
	default:
		subject = fmt.Sprintf("[perfdeck] notification: %s", displayProject(sc))
	}

	return subject, b.String()
}

func displayProject(sc notify.ScheduleContext) string {
	if sc.ProjectName != "" {
		return sc.ProjectName
	}
	return sc.ProjectID
}

type mimeParams struct {
	From           string
	To             string
	Subject        string
	Body           string
	Attachment     []byte
	AttachmentName string
}

const mimeBoundary = "perfdeck-report-boundary"

func buildMIME(p mimeParams) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", p.From)
	fmt.Fprintf(&buf, "To: %s\r\n", p.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", p.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(p.Attachment) == 0 {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(p.Body)
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(p.Body)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	buf.WriteString("Content-Type: application/octet-stream\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", p.AttachmentName)

	encoded := base64.StdEncoding.EncodeToString(p.Attachment)
	// RFC 2045 keeps encoded lines at or under 76 characters.
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)

	return buf.Bytes()
}
