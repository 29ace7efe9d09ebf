// Package notify delivers alerts and status messages to chat and webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/model"
)

// DefaultAlertTemplate renders a ResolvedDeployment as Telegram HTML.
const DefaultAlertTemplate = `<b>{{html .Handle}}</b> launched <b>{{html .Token.Name}}</b> ({{html .Token.Symbol}})
Contract: <code>{{.Token.Contract}}</code>
Family: {{.Family}} {{html .Platform}}
{{if .Deployer}}Deployer: <code>{{short_addr .Deployer}}</code>
{{end}}Tx: <code>{{short_addr .TxHash}}</code>`

// Notifier sends alerts and operator status lines.
type Notifier interface {
	SendAlert(ctx context.Context, rd model.ResolvedDeployment) error
	SendStatus(ctx context.Context, text string) error
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, rd model.ResolvedDeployment) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, rd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendStatus(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendStatus(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build constructs notifiers from config. Telegram notifiers with commands
// enabled are also returned as pollers.
func Build(cfgs []config.Notifier) (Multi, []*Telegram, error) {
	var (
		out     Multi
		pollers []*Telegram
	)
	for _, c := range cfgs {
		switch strings.ToLower(c.Type) {
		case "telegram":
			tg, err := NewTelegram(c.BotToken, c.ChatID, c.APIURL, c.Template)
			if err != nil {
				return nil, nil, fmt.Errorf("notifier %s: %w", c.ID, err)
			}
			out = append(out, tg)
			if c.Commands {
				pollers = append(pollers, tg)
			}
		case "webhook":
			wh, err := NewWebhook(c.URL, c.Method, c.Template, map[string]string{"Content-Type": "application/json"})
			if err != nil {
				return nil, nil, fmt.Errorf("notifier %s: %w", c.ID, err)
			}
			out = append(out, wh)
		default:
			return nil, nil, fmt.Errorf("notifier %s: unsupported type %q", c.ID, c.Type)
		}
	}
	return out, pollers, nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = DefaultAlertTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": shortAddr,
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}

// postJSON sends body to u and fails on non-2xx. Transport errors drop the
// URL so credentials embedded in it never reach logs.
func postJSON(ctx context.Context, client *http.Client, method, u string, headers map[string]string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier http status %d", resp.StatusCode)
	}
	return nil
}

func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
