package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var tagRe = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)

type fetchParams struct {
	URL string `json:"url" jsonschema:"description=HTTP or HTTPS URL to fetch"`
}

// WebFetchTool retrieves a URL and returns its text content with markup
// stripped.
type WebFetchTool struct {
	// Client may be replaced in tests; nil uses a 30s-timeout default.
	Client *http.Client
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Category() string    { return "web" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its textual content." }

func (t *WebFetchTool) Parameters() json.RawMessage { return SchemaFor(&fetchParams{}) }

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	raw := strings.TrimSpace(stringParam(params, "url"))
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "Error: url must be an absolute http(s) URL", nil
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	req.Header.Set("User-Agent", "grip/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: fetch failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: %s returned HTTP %d", raw, resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return fmt.Sprintf("Error: reading body: %v", err), nil
	}

	text := tagRe.ReplaceAllString(string(body), " ")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 20000 {
		text = text[:20000] + " [truncated]"
	}
	return text, nil
}
