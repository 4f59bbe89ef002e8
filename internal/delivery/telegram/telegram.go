// Package telegram adapts the delivery.Client port onto the Telegram Bot
// API via telebot.
//
// Endpoint ids are opaque to the rest of the system; here they decode as
// "<chat_id>" or "<chat_id>:<thread_id>" (forum topics).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"newswire/internal/delivery"
	"newswire/internal/news"
	"newswire/pkg/logx"
)

type Config struct {
	Token string
	// Timeout bounds a single API call; 0 means telebot's default client.
	Timeout time.Duration
}

type Client struct {
	bot *tele.Bot
	log logx.Logger
}

var _ delivery.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	settings := tele.Settings{Token: cfg.Token}
	if cfg.Timeout > 0 {
		settings.Client = &http.Client{Timeout: cfg.Timeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, log: log.With(logx.String("comp", "telegram"))}, nil
}

func (c *Client) Send(ctx context.Context, endpointID string, item news.Item) (string, error) {
	chatID, threadID, err := parseEndpoint(endpointID)
	if err != nil {
		return "", delivery.Permanent(err)
	}

	opts := &tele.SendOptions{
		ParseMode: tele.ModeHTML,
		ThreadID:  threadID,
	}
	chat := &tele.Chat{ID: chatID}

	var msg *tele.Message
	if item.ImageURL != "" {
		photo := &tele.Photo{File: tele.FromURL(item.ImageURL), Caption: renderText(item)}
		msg, err = c.bot.Send(chat, photo, opts)
	} else {
		msg, err = c.bot.Send(chat, renderText(item), opts)
	}
	if err != nil {
		return "", classify(err)
	}
	c.log.Debug("item sent",
		logx.String("item", item.ID),
		logx.String("endpoint", endpointID),
		logx.Int("message_id", msg.ID))
	return strconv.Itoa(msg.ID), nil
}

func (c *Client) Edit(ctx context.Context, endpointID, messageRef string, item news.Item) error {
	chatID, _, err := parseEndpoint(endpointID)
	if err != nil {
		return delivery.Permanent(err)
	}
	stored := tele.StoredMessage{MessageID: messageRef, ChatID: chatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if item.ImageURL != "" {
		// Delivered as a photo; only the caption is editable.
		_, err = c.bot.EditCaption(stored, renderText(item), opts)
	} else {
		_, err = c.bot.Edit(stored, renderText(item), opts)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, endpointID, messageRef string) error {
	chatID, _, err := parseEndpoint(endpointID)
	if err != nil {
		return delivery.Permanent(err)
	}
	if err := c.bot.Delete(tele.StoredMessage{MessageID: messageRef, ChatID: chatID}); err != nil {
		return classify(err)
	}
	return nil
}

func parseEndpoint(endpointID string) (chatID int64, threadID int, err error) {
	raw := strings.TrimSpace(endpointID)
	head, tail, split := strings.Cut(raw, ":")
	chatID, err = strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid endpoint id %q: %w", endpointID, err)
	}
	if split {
		threadID, err = strconv.Atoi(tail)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid endpoint id %q: %w", endpointID, err)
		}
	}
	return chatID, threadID, nil
}

// classify maps telebot errors onto the dispatcher's taxonomy.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return delivery.TransientAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		switch {
		case terr.Code == 429:
			return delivery.Transient(err)
		case terr.Code >= 400 && terr.Code < 500:
			// Chat not found, bot kicked, payload rejected: no retry will fix it.
			return delivery.Permanent(err)
		}
	}
	// Network errors, 5xx, anything unclassified: retryable.
	return delivery.Transient(err)
}

func renderText(item news.Item) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(esc(item.Title))
	b.WriteString("</b>\n\n")
	if item.Description != "" {
		b.WriteString(esc(item.Description))
		b.WriteString("\n\n")
	}
	b.WriteString("<i>")
	b.WriteString(esc(item.Tags.String()))
	b.WriteString("</i>")
	if item.Credit != "" {
		b.WriteString(" | ")
		b.WriteString(esc(item.Credit))
	}
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func esc(s string) string { return htmlEscaper.Replace(s) }
