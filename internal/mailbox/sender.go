package mailbox

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/logging"
)

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender replies to trigger mails over SMTP. smtp.SendMail upgrades the
// connection with STARTTLS when the server offers it.
type Sender struct {
	cfg  config.MailConfig
	send sendFunc
	now  func() time.Time
	log  *logging.Logger
}

// NewSender creates a sender for the configured account.
func NewSender(cfg config.MailConfig, log *logging.Logger) *Sender {
	return &Sender{
		cfg:  cfg,
		send: smtp.SendMail,
		now:  time.Now,
		log:  log.Sub("mailbox"),
	}
}

// Deliver sends body as a reply to the trigger's sender, threaded under the
// trigger mail.
func (s *Sender) Deliver(ctx context.Context, t domain.Trigger, body string) error {
	if t.From == "" {
		return fmt.Errorf("trigger %s has no sender address", t.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.cfg.Alias
	if from == "" {
		from = s.cfg.User
	}
	msg := s.compose(from, t, body)

	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.SMTPHost)

	s.log.Debug().Str("addr", addr).Str("to", t.From).Msg("sending reply")
	if err := s.send(addr, auth, from, []string{t.From}, msg); err != nil {
		return fmt.Errorf("sending reply to %s: %w", t.From, err)
	}
	s.log.Info().Str("to", t.From).Str("sessionId", t.SessionID).Msg("reply sent")
	return nil
}

// compose builds a plain text UTF-8 reply.
func (s *Sender) compose(from string, t domain.Trigger, body string) []byte {
	subject := t.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = strings.TrimSpace("Re: " + subject)
	}

	domainPart := "easi.work"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domainPart = from[at+1:]
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", t.From)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-Id: <%s@%s>\r\n", uuid.New().String(), domainPart)
	if t.MessageID != "" {
		fmt.Fprintf(&msg, "In-Reply-To: <%s>\r\n", t.MessageID)
		refs := append([]string(nil), t.References...)
		refs = append(refs, t.MessageID)
		fmt.Fprintf(&msg, "References: %s\r\n", angleJoin(refs))
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(normalizeNewlines(body))
	return []byte(msg.String())
}

func angleJoin(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<" + id + ">"
	}
	return strings.Join(parts, " ")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
