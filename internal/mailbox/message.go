package mailbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session scopes map a mail to a session id.
const (
	ScopeThread  = "thread"
	ScopeSender  = "sender"
	ScopeMessage = "message"
)

// sessionNamespace seeds the name-based UUIDs derived from thread keys.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://easi.work/session"))

var errNoText = errors.New("no text part")

// inbound is a parsed trigger mail.
type inbound struct {
	UID        uint32
	MessageID  string
	InReplyTo  string
	References []string
	From       string
	Subject    string
	Body       string
	Date       time.Time
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// parseMessage reads a raw RFC 5322 message.
func parseMessage(uid uint32, raw io.Reader) (inbound, error) {
	msg, err := mail.ReadMessage(raw)
	if err != nil {
		return inbound{}, fmt.Errorf("reading message %d: %w", uid, err)
	}

	in := inbound{
		UID:        uid,
		MessageID:  firstID(msg.Header.Get("Message-Id")),
		InReplyTo:  firstID(msg.Header.Get("In-Reply-To")),
		References: messageIDs(msg.Header.Get("References")),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
	}
	if addr, err := mail.ParseAddress(decodeHeader(msg.Header.Get("From"))); err == nil {
		in.From = addr.Address
	} else {
		in.From = strings.TrimSpace(msg.Header.Get("From"))
	}
	if d, err := msg.Header.Date(); err == nil {
		in.Date = d
	}

	body, err := extractBody(mailHeader(msg.Header), msg.Body)
	if err != nil && !errors.Is(err, errNoText) {
		return inbound{}, fmt.Errorf("extracting body of message %d: %w", uid, err)
	}
	in.Body = strings.TrimSpace(body)
	return in, nil
}

// TriggerText renders the text appended to the session for a mail.
func TriggerText(subject, body string) string {
	return fmt.Sprintf("Subject: %s\n\nBody: %s", subject, body)
}

// threadKey returns the string hashed into a session id for scope.
func threadKey(scope string, in inbound) string {
	switch scope {
	case ScopeSender:
		return "sender:" + strings.ToLower(in.From)
	case ScopeMessage:
		return fmt.Sprintf("message:%s:%d", in.MessageID, in.UID)
	default:
		switch {
		case len(in.References) > 0:
			return "thread:" + in.References[0]
		case in.InReplyTo != "":
			return "thread:" + in.InReplyTo
		case in.MessageID != "":
			return "thread:" + in.MessageID
		default:
			return fmt.Sprintf("thread:uid:%d", in.UID)
		}
	}
}

// sessionID derives the stable session id for a mail.
func sessionID(scope string, in inbound) string {
	return uuid.NewSHA1(sessionNamespace, []byte(threadKey(scope, in))).String()
}

// header is the subset of a MIME header the body extractor needs.
type header interface {
	Get(key string) string
}

type mailHeader mail.Header

func (h mailHeader) Get(key string) string { return mail.Header(h).Get(key) }

// extractBody returns the first text part of a message, preferring
// text/plain over other text types.
func extractBody(h header, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		var fallback string
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			text, err := extractBody(p.Header, p)
			if err != nil {
				continue
			}
			partType, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
			if partType == "text/plain" || strings.HasPrefix(partType, "multipart/") {
				return text, nil
			}
			if fallback == "" {
				fallback = text
			}
		}
		if fallback != "" {
			return fallback, nil
		}
		return "", errNoText
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return "", errNoText
	}

	data, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return "", err
	}
	if cs := strings.ToLower(params["charset"]); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		r, err := charsetReader(cs, bytes.NewReader(data))
		if err == nil {
			if decoded, err := io.ReadAll(r); err == nil {
				data = decoded
			}
		}
	}
	return string(data), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	default:
		return r
	}
}

// newlineStripper drops CR and LF so base64 bodies wrapped at 76 columns
// decode cleanly.
type newlineStripper struct {
	r io.Reader
}

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

// charsetReader handles the single-byte charsets common in mail. Anything
// else is passed through unchanged.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "latin1":
		data, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return strings.NewReader(string(runes)), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
}

func decodeHeader(v string) string {
	if d, err := wordDecoder.DecodeHeader(v); err == nil {
		return strings.TrimSpace(d)
	}
	return strings.TrimSpace(v)
}

// messageIDs splits a References style header into bare ids.
func messageIDs(v string) []string {
	var ids []string
	for _, f := range strings.Fields(v) {
		if id := strings.Trim(f, "<>,"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func firstID(v string) string {
	if ids := messageIDs(v); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
