package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

// WebFetchID is the capability id of the page-fetching tool.
const WebFetchID = "web_fetch"

const (
	fetchTimeout    = 30 * time.Second
	maxResponseSize = 4 << 20
	maxContentChars = 16000
)

// WebFetchTool downloads a page and returns its readable text content.
type WebFetchTool struct {
	client *http.Client
	logger logging.Logger
}

// NewWebFetch builds the tool with a bounded HTTP client.
func NewWebFetch(logger logging.Logger) *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logging.OrNop(logger),
	}
}

func (t *WebFetchTool) Descriptor() ports.CapabilityDescriptor {
	return ports.CapabilityDescriptor{
		Kind:        ports.KindTool,
		ID:          WebFetchID,
		Description: "Fetch a web page over HTTP(S) and return its readable text content",
		RiskClass:   "safe",
		Idempotent:  true,
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": {Type: "string", Description: "absolute http or https URL"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*ports.ToolOutput, error) {
	raw, _ := args["url"].(string)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q: must be absolute http or https", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "orchid-agent/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, ports.NewInfrastructureError(fmt.Errorf("fetch %s: %w", target, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, ports.NewInfrastructureError(fmt.Errorf("read %s: %w", target, err))
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	title := ""
	if strings.Contains(contentType, "html") || looksLikeHTML(content) {
		title, content = extractReadable(content)
	}
	content = collapseWhitespace(content)
	truncated := false
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
		truncated = true
	}

	t.logger.Debug("fetched %s: status=%d, %d chars, took=%v",
		target, resp.StatusCode, len(content), time.Since(start).Round(time.Millisecond))

	return &ports.ToolOutput{
		Content: content,
		Metadata: map[string]any{
			"url":          target.String(),
			"status":       resp.StatusCode,
			"content_type": contentType,
			"title":        title,
			"truncated":    truncated,
		},
	}, nil
}

// extractReadable strips markup and boilerplate and returns (title, text).
func extractReadable(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", html
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, iframe, svg, nav, footer, header, aside").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		return title, strings.TrimSpace(doc.Text())
	}
	return title, strings.TrimSpace(body.Text())
}

var whitespaceRe = regexp.MustCompile(`[ \t]*\n[\s]*`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, "\n"))
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s[:min(len(s), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
