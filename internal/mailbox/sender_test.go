package mailbox

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSender(sent *[]sentMail, err error) *Sender {
	s := NewSender(mailCfg(), logging.New(nil, "silent"))
	s.now = func() time.Time { return time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC) }
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return err
	}
	return s
}

func TestDeliver_Reply(t *testing.T) {
	var sent []sentMail
	s := newTestSender(&sent, nil)

	tr := domain.Trigger{
		ID:         "m2@example.com",
		SessionID:  "sess",
		From:       "alice@example.com",
		Subject:    "Dinner",
		MessageID:  "m2@example.com",
		References: []string{"m1@example.com"},
	}
	require.NoError(t, s.Deliver(context.Background(), tr, "Here are three places.\nEnjoy."))
	require.Len(t, sent, 1)

	m := sent[0]
	assert.Equal(t, "smtp.mail.me.com:587", m.addr)
	assert.Equal(t, "assistant@easi.work", m.from)
	assert.Equal(t, []string{"alice@example.com"}, m.to)

	assert.Contains(t, m.msg, "From: assistant@easi.work\r\n")
	assert.Contains(t, m.msg, "To: alice@example.com\r\n")
	assert.Contains(t, m.msg, "Subject: Re: Dinner\r\n")
	assert.Contains(t, m.msg, "Date: Mon, 05 Oct 2026 10:00:00 +0000\r\n")
	assert.Contains(t, m.msg, "In-Reply-To: <m2@example.com>\r\n")
	assert.Contains(t, m.msg, "References: <m1@example.com> <m2@example.com>\r\n")
	assert.Contains(t, m.msg, "@easi.work>\r\n")
	assert.Contains(t, m.msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(m.msg, "\r\n\r\nHere are three places.\r\nEnjoy."))
}

func TestDeliver_KeepsExistingRePrefix(t *testing.T) {
	var sent []sentMail
	s := newTestSender(&sent, nil)

	require.NoError(t, s.Deliver(context.Background(), domain.Trigger{ID: "x", From: "a@b.c", Subject: "RE: Dinner"}, "ok"))
	assert.Contains(t, sent[0].msg, "Subject: RE: Dinner\r\n")
	assert.NotContains(t, sent[0].msg, "In-Reply-To")
}

func TestDeliver_EncodesNonASCIISubject(t *testing.T) {
	var sent []sentMail
	s := newTestSender(&sent, nil)

	require.NoError(t, s.Deliver(context.Background(), domain.Trigger{ID: "x", From: "a@b.c", Subject: "Café"}, "ok"))
	assert.Contains(t, sent[0].msg, "Subject: =?utf-8?q?Re:_Caf=C3=A9?=\r\n")
}

func TestDeliver_Errors(t *testing.T) {
	var sent []sentMail
	s := newTestSender(&sent, errors.New("535 auth failed"))

	err := s.Deliver(context.Background(), domain.Trigger{ID: "x", From: "a@b.c"}, "ok")
	assert.ErrorContains(t, err, "535 auth failed")

	err = s.Deliver(context.Background(), domain.Trigger{ID: "x"}, "ok")
	assert.ErrorContains(t, err, "no sender")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Deliver(ctx, domain.Trigger{ID: "x", From: "a@b.c"}, "ok")
	assert.ErrorIs(t, err, context.Canceled)
}
