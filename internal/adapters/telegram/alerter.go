// Package telegram sends operator alerts to a Telegram chat.
//
// It implements logx.Sender so WARN+ log lines can be forwarded to the
// operator group without the bot polling for updates.
package telegram

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// sender is the part of *tele.Bot the alerter needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Alerter struct {
	cfg Config
	bot sender
}

func New(cfg Config) (*Alerter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	// Offline skips the getMe call; the alerter never polls.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Alerter{cfg: cfg, bot: b}, nil
}

// SendAlert sends text, split into Telegram-sized chunks.
func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: a.cfg.ChatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: a.cfg.ThreadID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into pieces of at most limit bytes, preferring newline
// boundaries and never splitting a rune.
func splitText(s string, limit int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > limit {
		cut := strings.LastIndexByte(s[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		out = append(out, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
