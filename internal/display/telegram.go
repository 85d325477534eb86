package display

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"netpulse/internal/activity"
	logx "netpulse/pkg/logx"
)

// Telegram message text limit, with room for the markup.
const telegramMaxText = 4000

// Messenger is the subset of *tele.Bot the Telegram display uses.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// RatePerSec bounds message sends/edits (default 1).
	RatePerSec float64
}

// NewBot builds an offline bot: no polling, only outgoing calls.
func NewBot(token string) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return tele.NewBot(tele.Settings{Token: token, Offline: true})
}

// Telegram keeps a single chat message up to date with the current view.
// The first render sends it; later renders edit it in place. Renders are
// coalesced: only the latest pending text is delivered.
type Telegram struct {
	api     Messenger
	chat    *tele.Chat
	thread  int
	limiter *rate.Limiter
	log     logx.Logger

	mu      sync.Mutex
	mode    Mode
	pending string
	dirty   bool
	last    string
	msg     *tele.Message
	wake    chan struct{}
}

func NewTelegram(api Messenger, cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if api == nil {
		return nil, errors.New("telegram: messenger is nil")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat id is required")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		api:     api,
		chat:    &tele.Chat{ID: cfg.ChatID},
		thread:  cfg.ThreadID,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
		wake:    make(chan struct{}, 1),
	}, nil
}

func (t *Telegram) SetMode(m Mode) {
	t.mu.Lock()
	t.mode = m
	t.mu.Unlock()
}

func (t *Telegram) ShowAverages(down, up float64) {
	t.mu.Lock()
	mode := t.mode
	t.mu.Unlock()
	if mode != ModeAverages {
		return
	}
	t.queue(renderAveragesHTML(down, up))
}

func (t *Telegram) ShowLog(entries []activity.Entry) {
	t.mu.Lock()
	mode := t.mode
	t.mu.Unlock()
	if mode != ModeLog {
		return
	}
	t.queue(renderLogHTML(entries))
}

func (t *Telegram) queue(text string) {
	t.mu.Lock()
	if text == t.last && !t.dirty {
		t.mu.Unlock()
		return
	}
	t.pending = text
	t.dirty = true
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued renders until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		t.mu.Lock()
		text, dirty := t.pending, t.dirty
		t.dirty = false
		msg := t.msg
		t.mu.Unlock()
		if !dirty {
			continue
		}

		sent, err := t.deliver(msg, text)
		t.mu.Lock()
		if err != nil {
			t.log.Warn("telegram update failed", logx.Err(err))
			// Send a fresh message next time.
			t.msg = nil
		} else {
			t.msg = sent
			t.last = text
		}
		t.mu.Unlock()
	}
}

func (t *Telegram) deliver(msg *tele.Message, text string) (*tele.Message, error) {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if msg == nil {
		opts.ThreadID = t.thread
		return t.api.Send(t.chat, text, opts)
	}
	edited, err := t.api.Edit(msg, text, opts)
	if err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return msg, nil
		}
		return nil, fmt.Errorf("edit message %d: %w", msg.ID, err)
	}
	if edited == nil {
		edited = msg
	}
	return edited, nil
}

func levelMark(kbps float64) string {
	switch SpeedLevel(kbps) {
	case LevelSlow:
		return "🔴"
	case LevelModerate:
		return "🟡"
	default:
		return "🟢"
	}
}

func renderAveragesHTML(down, up float64) string {
	return fmt.Sprintf("<b>netpulse</b>\n%s Download: <code>%.2f KB/s</code>\n%s Upload: <code>%.2f KB/s</code>",
		levelMark(down), down, levelMark(up), up)
}

func renderLogHTML(entries []activity.Entry) string {
	body := LogText(entries)
	if len(body) > telegramMaxText {
		cut := telegramMaxText
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "\n…"
	}
	return "<b>activity</b>\n<pre>" + html.EscapeString(body) + "</pre>"
}
