package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/model"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

const (
	longPollSeconds = 30
	pollBackoff     = 5 * time.Second
)

// CommandHandler executes one text command and returns the reply.
type CommandHandler interface {
	Execute(ctx context.Context, text string) string
}

// Telegram sends through the Bot API and reads commands from one chat.
type Telegram struct {
	api    string
	token  string
	chatID string
	render *template.Template
	client *http.Client
	poll   *http.Client

	offset      int64
	pollTimeout int
	backoff     time.Duration
}

// NewTelegram builds a Telegram notifier. apiURL defaults to DefaultTelegramAPI.
func NewTelegram(token, chatID, apiURL, tmpl string) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, errors.New("telegram bot token and chat id required")
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		api:         strings.TrimRight(apiURL, "/"),
		token:       token,
		chatID:      chatID,
		render:      t,
		client:      defaultClient(),
		poll:        &http.Client{Timeout: (longPollSeconds + 10) * time.Second},
		pollTimeout: longPollSeconds,
		backoff:     pollBackoff,
	}, nil
}

func (t *Telegram) method(name string) string {
	return t.api + "/bot" + t.token + "/" + name
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) SendAlert(ctx context.Context, rd model.ResolvedDeployment) error {
	text, err := executeTemplate(t.render, rd)
	if err != nil {
		return err
	}
	return t.send(ctx, sendMessage{ChatID: t.chatID, Text: text, ParseMode: "HTML", DisableWebPagePreview: true})
}

func (t *Telegram) SendStatus(ctx context.Context, text string) error {
	return t.send(ctx, sendMessage{ChatID: t.chatID, Text: text, DisableWebPagePreview: true})
}

func (t *Telegram) send(ctx context.Context, msg sendMessage) error {
	if err := postJSON(ctx, t.client, http.MethodPost, t.method("sendMessage"), nil, msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// Poll long-polls for commands until ctx is done. Messages from any chat
// other than the configured one are ignored.
func (t *Telegram) Poll(ctx context.Context, h CommandHandler, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	for ctx.Err() == nil {
		if err := t.pollOnce(ctx, h); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("telegram poll failed", "err", err)
			timer := time.NewTimer(t.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (t *Telegram) pollOnce(ctx context.Context, h CommandHandler) error {
	q := url.Values{
		"offset":          {strconv.FormatInt(t.offset, 10)},
		"timeout":         {strconv.Itoa(t.pollTimeout)},
		"allowed_updates": {`["message"]`},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.method("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", stripURL(err))
	}
	resp, err := t.poll.Do(req)
	if err != nil {
		return fmt.Errorf("telegram getUpdates: %w", stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram getUpdates status %d", resp.StatusCode)
	}

	var body updatesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("decode updates: %w", err)
	}
	if !body.OK {
		return errors.New("telegram getUpdates not ok")
	}

	for _, u := range body.Result {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil || strconv.FormatInt(u.Message.Chat.ID, 10) != t.chatID {
			continue
		}
		text := strings.TrimSpace(u.Message.Text)
		if !strings.HasPrefix(text, "/") {
			continue
		}
		if reply := h.Execute(ctx, text); reply != "" {
			if err := t.SendStatus(ctx, reply); err != nil {
				return err
			}
		}
	}
	return nil
}
