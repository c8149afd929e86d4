package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Config configures the send-only Telegram adapter.
type Config struct {
	Token string
	// URL overrides the Bot API endpoint (tests, local bot API servers).
	URL     string
	Timeout time.Duration
	Client  *http.Client
	// Offline skips the getMe probe on construction.
	Offline bool
}

// Adapter sends messages through the Telegram Bot API. It does not poll for
// updates.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.URL, "/"),
		Token:   cfg.Token,
		Client:  hc,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, http: hc}
	if !cfg.Offline && b.Me != nil {
		a.log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return a, nil
}

// Stop releases idle connections. There is no poll loop to tear down.
func (a *Adapter) Stop(ctx context.Context) error {
	a.http.CloseIdleConnections()
	a.log.Debug("telegram adapter stopped")
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long plain-text messages into chunks of at most
// limit runes, preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			// Newline near the end of the window, but not one that leaves a tiny chunk.
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText sends text to a chat, splitting it when it exceeds the Bot API
// limit. The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, wrapSendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func wrapSendError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return &kit.RetryAfterError{After: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	var pflood *tele.FloodError
	if errors.As(err, &pflood) && pflood != nil && pflood.RetryAfter > 0 {
		return &kit.RetryAfterError{After: time.Duration(pflood.RetryAfter) * time.Second, Err: err}
	}
	return err
}
