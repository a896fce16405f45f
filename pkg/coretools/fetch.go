package coretools

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"golang.org/x/net/html"
)

const (
	defaultFetchMaxBytes = 5 << 20
	// FetchTimeout bounds a single fetch.
	FetchTimeout         = 30 * time.Second
	fetchUserAgent       = "localforge-fetch/1.0"
)

// PageRenderer loads a page in a browser and returns its rendered HTML.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

func fetchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolFetch,
		Description: "Fetch a URL over HTTP(S). HTML is converted to plain text unless format is \"html\".",
		Category:    toolexecutor.CategoryWeb,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "The http or https URL to fetch", Required: true},
			{Name: "format", Type: "string", Description: "Output format (default text)", Enum: []string{"text", "html"}},
			{Name: "render", Type: "boolean", Description: "Render JavaScript in a headless browser before extracting (default false)"},
		},
		Timeout:  FetchTimeout + 15*time.Second,
		Progress: progressPath("Fetching", "url"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw := strings.TrimSpace(stringParam(params, "url"))
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, newToolError(ToolFetch, CodeInvalidArgument, "url must be an absolute http or https URL")
			}
			asHTML := stringParam(params, "format") == "html"

			if boolParam(params, "render") {
				if opts.Renderer == nil {
					return nil, newToolError(ToolFetch, CodeInvalidArgument, "page rendering is not available")
				}
				page, err := opts.Renderer.Render(ctx, u.String())
				if err != nil {
					return nil, wrapError(ToolFetch, err)
				}
				if asHTML {
					return page, nil
				}
				return htmlToText(page), nil
			}

			body, contentType, err := fetchURL(ctx, opts, u.String())
			if err != nil {
				return nil, err
			}
			return renderBody(body, contentType, asHTML)
		},
	}
}

func fetchURL(ctx context.Context, opts Options, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", wrapError(ToolFetch, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.5")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, "", wrapError(ToolFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", newToolError(ToolFetch, CodeFailed, "request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.FetchMaxBytes))
	if err != nil {
		return nil, "", wrapError(ToolFetch, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func renderBody(body []byte, contentType string, asHTML bool) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(body).String()
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		if asHTML {
			return string(body), nil
		}
		return htmlToText(string(body)), nil
	case isText(body):
		return string(body), nil
	default:
		return "", newToolError(ToolFetch, CodeInvalidArgument, "unsupported content type %s", mediaType)
	}
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "table": true,
	"ul": true, "ol": true, "header": true, "footer": true, "nav": true, "blockquote": true,
}

// htmlToText extracts readable text, dropping scripts, styles and markup.
func htmlToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var sb strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseBlankLines(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && tt == html.StartTagToken {
				skip++
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
			if tag == "li" {
				sb.WriteString("- ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
