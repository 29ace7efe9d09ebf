package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/devblac/launch-watch/internal/model"
)

// Webhook posts {"text": ...} payloads to a generic HTTP endpoint.
type Webhook struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
}

// NewWebhook builds a generic HTTP notifier.
func NewWebhook(url, method, tmpl string, headers map[string]string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &Webhook{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
	}, nil
}

func (w *Webhook) SendAlert(ctx context.Context, rd model.ResolvedDeployment) error {
	text, err := executeTemplate(w.render, rd)
	if err != nil {
		return err
	}
	return postJSON(ctx, w.client, w.method, w.url, w.headers, map[string]any{
		"text":  text,
		"alert": alertBody(rd),
	})
}

func (w *Webhook) SendStatus(ctx context.Context, text string) error {
	return postJSON(ctx, w.client, w.method, w.url, w.headers, map[string]string{"text": text})
}

func alertBody(rd model.ResolvedDeployment) map[string]string {
	return map[string]string{
		"handle":   rd.Handle,
		"name":     rd.Token.Name,
		"symbol":   rd.Token.Symbol,
		"contract": rd.Token.Contract,
		"platform": rd.Platform,
		"source":   rd.Source,
		"family":   string(rd.Family),
		"deployer": rd.Deployer,
		"tx_hash":  rd.TxHash,
	}
}
