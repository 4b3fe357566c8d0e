// Package llm talks to an OpenAI-compatible Responses API endpoint. The raw
// response shape stays inside this package; callers only see Response.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of an ordered conversation, reduced to what the
// provider needs.
type Message struct {
	Role string
	Text string
}

// Source is a web citation reported by the provider's search tool.
type Source struct {
	Title string
	URL   string
}

type Request struct {
	System    string
	Messages  []Message
	WebSearch bool
}

type Response struct {
	Text    string
	Sources []Source
}

type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ Provider = (*Client)(nil)

func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := buildPayload(c.cfg.Model, req)
	if err != nil {
		return Response{}, err
	}

	endpointURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	return parseResponse(respBody, req.WebSearch)
}

func buildPayload(model string, req Request) ([]byte, error) {
	input := make([]map[string]string, 0, len(req.Messages)+1)
	input = append(input, map[string]string{"role": "system", "content": req.System})
	for _, m := range req.Messages {
		input = append(input, map[string]string{"role": m.Role, "content": m.Text})
	}

	payload := map[string]any{
		"model": model,
		"input": input,
		"text":  map[string]string{"verbosity": "low"},
	}
	if req.WebSearch {
		payload["tools"] = []map[string]string{{"type": "web_search"}}
		payload["include"] = []string{"web_search_call.action.sources"}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses payload: %w", err)
	}
	return b, nil
}

type rawResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Action struct {
			Sources []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"sources"`
		} `json:"action"`
	} `json:"output"`
}

// parseResponse extracts reply text and, when search was requested, the
// citations reported by web_search_call items. An empty reply is not an error
// here; the caller decides what to substitute.
func parseResponse(body []byte, webSearch bool) (Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, fmt.Errorf("decode responses api response: %w", err)
	}

	var out Response

	if strings.TrimSpace(raw.OutputText) != "" {
		out.Text = strings.TrimSpace(raw.OutputText)
	} else {
		var text strings.Builder
		for _, item := range raw.Output {
			if item.Type != "message" {
				continue
			}
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		}
		out.Text = strings.TrimSpace(text.String())
	}

	if webSearch {
		for _, item := range raw.Output {
			if item.Type != "web_search_call" {
				continue
			}
			for _, s := range item.Action.Sources {
				out.Sources = append(out.Sources, Source{Title: s.Title, URL: s.URL})
			}
		}
	}

	return out, nil
}
