package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
)

const maxFetchSize = 10 * 1024 * 1024 // 10MB

var privateRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// WebFetch is the web_fetch tool: an HTTP GET with a private-address guard
// and a response size cap. Image responses are returned as attachments.
type WebFetch struct {
	client *http.Client
	lookup func(host string) ([]net.IP, error)
}

// NewWebFetch creates the web_fetch tool.
func NewWebFetch() *WebFetch {
	w := &WebFetch{lookup: net.LookupIP}
	w.client = &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			if err := w.validateTarget(req.URL.Hostname()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	return w
}

func (w *WebFetch) validateTarget(host string) error {
	ips, err := w.lookup(host)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname %q: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("URL resolves to private/internal IP address %s", ip)
		}
	}
	return nil
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Description() string {
	return "Fetch a public web page or image over HTTP(S). Returns status, headers and body text; images are returned for viewing."
}

func (w *WebFetch) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"The http or https URL to fetch"}},"required":["url"]}`)
}

func (w *WebFetch) Execute(ctx context.Context, input json.RawMessage) (domain.ToolResult, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return domain.ToolResult{}, fmt.Errorf("invalid input: %w", err)
	}
	if args.URL == "" {
		return domain.ToolResult{}, fmt.Errorf("url is required")
	}

	u, err := url.Parse(args.URL)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.ToolResult{}, fmt.Errorf("URL must start with http:// or https://")
	}
	if err := w.validateTarget(u.Hostname()); err != nil {
		return domain.ToolResult{}, fmt.Errorf("blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "easiwork-fetch/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("failed to read response body: %w", err)
	}

	mediaType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	if strings.HasPrefix(mediaType, "image/") {
		res := domain.ToolResult{
			Output:     fmt.Sprintf("Status: %s\nContent-Type: %s\nSize: %d bytes", resp.Status, mediaType, len(body)),
			Attachment: &domain.Attachment{MediaType: mediaType, Data: body},
		}
		if resp.StatusCode >= 400 {
			res.Error = res.Output
		}
		return res, nil
	}

	var headerLines []string
	for key, values := range resp.Header {
		for _, value := range values {
			headerLines = append(headerLines, fmt.Sprintf("%s: %s", key, value))
		}
	}
	text := fmt.Sprintf("Status: %s\n\nHeaders:\n%s\n\nBody:\n%s", resp.Status, strings.Join(headerLines, "\n"), body)
	if resp.StatusCode >= 400 {
		return domain.ToolResult{Error: text}, nil
	}
	return domain.ToolResult{Output: text}, nil
}
