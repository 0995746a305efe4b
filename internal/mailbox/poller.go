// Package mailbox turns mail sent to the assistant's alias into triggers
// and sends the replies.
package mailbox

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/logging"
)

// imapConn is the part of an IMAP client session the poller uses.
type imapConn interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// dialFunc opens an authenticated IMAP session.
type dialFunc func(ctx context.Context) (imapConn, error)

// Poller polls an IMAP folder for unseen mail addressed to the alias. Each
// mail becomes a trigger; it is flagged \Seen only after its handler
// succeeds, so a failed or interrupted trigger is retried on the next cycle.
type Poller struct {
	cfg      config.MailConfig
	interval time.Duration
	dial     dialFunc
	log      *logging.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides the poll interval from config.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// NewPoller creates a poller for the configured mailbox.
func NewPoller(cfg config.MailConfig, log *logging.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		cfg:      cfg,
		interval: time.Duration(cfg.PollInterval) * time.Second,
		log:      log.Sub("mailbox"),
	}
	p.dial = p.dialTLS
	if p.interval <= 0 {
		p.interval = time.Duration(config.DefaultPollInterval) * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) dialTLS(ctx context.Context) (imapConn, error) {
	addr := net.JoinHostPort(p.cfg.IMAPHost, strconv.Itoa(p.cfg.IMAPPort))
	p.log.Debug().Str("addr", addr).Msg("connecting to IMAP server")

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: p.cfg.IMAPHost})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c.Timeout = 2 * time.Minute

	if err := c.Login(p.cfg.User, p.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return c, nil
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
// Cycle errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, handle domain.TriggerHandler) error {
	p.log.Info().
		Str("folder", p.cfg.Folder).
		Str("alias", p.cfg.Alias).
		Dur("interval", p.interval).
		Msg("mailbox poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if n, err := p.Poll(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Msg("poll cycle failed")
		} else if n > 0 {
			p.log.Info().Int("handled", n).Msg("poll cycle complete")
		}

		select {
		case <-ctx.Done():
			p.log.Info().Msg("mailbox poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle: every unseen mail to the alias is handed to handle in
// UID order. It returns the number of mails acknowledged.
func (p *Poller) Poll(ctx context.Context, handle domain.TriggerHandler) (int, error) {
	c, err := p.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Logout()

	if _, err := c.Select(p.cfg.Folder, false); err != nil {
		return 0, fmt.Errorf("selecting %s: %w", p.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if p.cfg.Alias != "" {
		criteria.Header.Add("To", p.cfg.Alias)
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("searching %s: %w", p.cfg.Folder, err)
	}
	if len(uids) == 0 {
		return 0, nil
	}
	p.log.Debug().Int("unseen", len(uids)).Msg("found unseen mail")

	mails, err := p.fetch(c, uids)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, in := range mails {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		ok, err := p.process(ctx, c, in, handle)
		if err != nil {
			return handled, err
		}
		if ok {
			handled++
		}
	}
	return handled, nil
}

// ProcessUID handles a single mail by UID regardless of its \Seen flag.
func (p *Poller) ProcessUID(ctx context.Context, uid uint32, handle domain.TriggerHandler) error {
	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select(p.cfg.Folder, false); err != nil {
		return fmt.Errorf("selecting %s: %w", p.cfg.Folder, err)
	}
	mails, err := p.fetch(c, []uint32{uid})
	if err != nil {
		return err
	}
	if len(mails) == 0 {
		return fmt.Errorf("message %d not found in %s", uid, p.cfg.Folder)
	}
	ok, err := p.process(ctx, c, mails[0], handle)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("message %d was not acknowledged", uid)
	}
	return nil
}

// process runs the handler for one mail and flags it seen on success. A
// handler failure is logged and reported as not acknowledged; only IMAP
// errors are returned.
func (p *Poller) process(ctx context.Context, c imapConn, in inbound, handle domain.TriggerHandler) (bool, error) {
	t := p.trigger(in)
	log := p.log.With("sessionId", t.SessionID)
	log.Info().
		Uint32("uid", in.UID).
		Str("from", in.From).
		Str("subject", in.Subject).
		Msg("trigger received")

	if err := handle(ctx, t); err != nil {
		log.Warn().Err(err).Uint32("uid", in.UID).Msg("trigger failed; leaving unseen")
		return false, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(in.UID)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return false, fmt.Errorf("flagging message %d seen: %w", in.UID, err)
	}
	log.Debug().Uint32("uid", in.UID).Msg("trigger acknowledged")
	return true, nil
}

func (p *Poller) trigger(in inbound) domain.Trigger {
	id := in.MessageID
	if id == "" {
		id = "uid:" + strconv.FormatUint(uint64(in.UID), 10)
	}
	refs := append([]string(nil), in.References...)
	if in.InReplyTo != "" && !slices.Contains(refs, in.InReplyTo) {
		refs = append(refs, in.InReplyTo)
	}
	received := in.Date
	if received.IsZero() {
		received = time.Now()
	}
	return domain.Trigger{
		ID:         id,
		SessionID:  sessionID(p.cfg.SessionScope, in),
		Text:       TriggerText(in.Subject, in.Body),
		From:       in.From,
		Subject:    in.Subject,
		MessageID:  in.MessageID,
		References: refs,
		ReceivedAt: received,
	}
}

var bodySection = &imap.BodySectionName{Peek: true}

// fetch downloads the given messages and parses them. Mails that cannot be
// parsed are skipped.
func (p *Poller) fetch(c imapConn, uids []uint32) ([]inbound, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seq, []imap.FetchItem{imap.FetchUid, bodySection.FetchItem()}, messages)
	}()

	var raw []*imap.Message
	for msg := range messages {
		raw = append(raw, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching %d messages: %w", len(uids), err)
	}

	var out []inbound
	var errs []error
	for _, msg := range raw {
		body := msg.GetBody(bodySection)
		if body == nil {
			errs = append(errs, fmt.Errorf("message %d has no body", msg.Uid))
			continue
		}
		in, err := parseMessage(msg.Uid, body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, in)
	}
	slices.SortFunc(out, func(a, b inbound) int { return cmp.Compare(a.UID, b.UID) })
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		p.log.Warn().Err(err).Msg("skipping unreadable message")
	}
	return out, nil
}

