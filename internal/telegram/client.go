// Package telegram provides proposal notifications and the single-user
// control plane over the Telegram Bot API.
package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// Client wraps the bot API with linear-backoff retry and HTML rendering.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a Telegram client bound to the default chat.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Enabled reports whether the client can send messages. A nil client
// acts as a disabled notifier.
func (c *Client) Enabled() bool {
	return c != nil && c.bot != nil
}

// UpdatesChan starts long polling and returns the update stream.
func (c *Client) UpdatesChan() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return c.bot.GetUpdatesChan(u)
}

// StopReceiving stops the long-polling loop started by UpdatesChan.
func (c *Client) StopReceiving() {
	c.bot.StopReceivingUpdates()
}

// send delivers a request with linear-backoff retry.
func (c *Client) send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		sent, err := c.bot.Send(msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return tgbotapi.Message{}, fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendMessage sends an HTML message to the default chat and returns the
// chat and message ids of the sent message.
func (c *Client) SendMessage(text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int64, int, error) {
	return c.SendMessageTo(c.chatID, text, keyboard)
}

// SendMessageTo sends an HTML message to a specific chat.
func (c *Client) SendMessageTo(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int64, int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	sent, err := c.send(msg)
	if err != nil {
		return 0, 0, err
	}
	return sent.Chat.ID, sent.MessageID, nil
}

// EditMessage rewrites a previously sent message in place.
func (c *Client) EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard

	_, err := c.send(edit)
	return err
}

// AnswerCallback acknowledges a button press, optionally as an alert popup.
func (c *Client) AnswerCallback(callbackID, text string, showAlert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = showAlert

	_, err := c.bot.Request(cb)
	return err
}

// SendProposal sends a proposal card with decision buttons and returns
// the chat and message ids so decisions can edit the card later.
func (c *Client) SendProposal(p *models.Proposal) (int64, int, error) {
	kb := proposalKeyboard(p)
	return c.SendMessage(formatProposalMessage(p, time.Now()), &kb)
}

// formatProposalMessage renders the proposal card. now drives the
// expires-in countdown.
func formatProposalMessage(p *models.Proposal, now time.Time) string {
	reasons := "All metrics OK"
	if len(p.Reasons) > 0 {
		reasons = strings.Join(firstN(p.Reasons, 3), ", ")
	}
	expiresIn := int(p.ExpiresAt.Sub(now).Minutes())

	lines := []string{
		fmt.Sprintf("<b>📊 Trade Proposal: %s %s</b>", p.Coin, p.Side),
		fmt.Sprintf("<code>ID: %s</code>", p.ID),
		"",
		fmt.Sprintf("<b>Score:</b> %.0f/100", p.Score),
		fmt.Sprintf("<b>Reasons:</b> %s", reasons),
		"",
		"<b>Suggested Limits:</b>",
		fmt.Sprintf("Open: $%.4f", p.SuggestedPrices.OpenLimitPx),
		fmt.Sprintf("  (offset: %.1f bps, fill prob: %.1f%%)", p.Offsets.OpenOffsetBps, p.FillProbs.OpenFillProb*100),
		fmt.Sprintf("Close: $%.4f", p.SuggestedPrices.CloseLimitPx),
		fmt.Sprintf("  (offset: %.1f bps, fill prob: %.1f%%)", p.Offsets.CloseOffsetBps, p.FillProbs.CloseFillProb*100),
		"",
		"<b>Parameters:</b>",
		fmt.Sprintf("Margin: $%.2f | Leverage: %gx", p.Margin, p.Leverage),
		fmt.Sprintf("Notional: $%s | Hold: %d min", humanize.FormatFloat("#,###.##", p.Margin*p.Leverage), p.HoldMin),
		fmt.Sprintf("Fee Mode: %s", strings.ToUpper(string(p.FeeMode))),
		"",
		"<b>Key Metrics:</b>",
		fmt.Sprintf("Spread: %.2f bps", p.Metrics["spread_bps"]),
		fmt.Sprintf("Oracle Dev: %.2f bps", p.Metrics["oracle_dev_bps"]),
		fmt.Sprintf("Funding (1h): %.6f", p.FundingHourly),
		fmt.Sprintf("24h Volume: $%s", humanize.Comma(int64(math.Round(p.Metrics["liquidity"])))),
		fmt.Sprintf("Bid: $%.4f | Ask: $%.4f", p.SuggestedPrices.BestBid, p.SuggestedPrices.BestAsk),
		"",
		fmt.Sprintf("<i>Expires: %s UTC (%d min) | Created: %s UTC</i>",
			p.ExpiresAt.UTC().Format("15:04:05"), expiresIn, p.CreatedAt.UTC().Format("2006-01-02T15:04:05")),
		"",
		"<i>⚠️ Paper-only. No trading executed.</i>",
	}
	return strings.Join(lines, "\n")
}

// proposalKeyboard builds the decision buttons attached to a proposal card.
func proposalKeyboard(p *models.Proposal) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Accept", "ACCEPT:"+p.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "REJECT:"+p.ID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏸ Pause", "PAUSE"),
			tgbotapi.NewInlineKeyboardButtonData("▶️ Resume", "RESUME"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🔕 Mute %s 60m", p.Coin), fmt.Sprintf("MUTE:%s:60", p.Coin)),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Next", "NEXT"),
		),
	)
}

// decidedKeyboard replaces decision buttons once a proposal is settled.
func decidedKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Next", "NEXT"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", "STATUS"),
		),
	)
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeHTML escapes user-supplied text embedded in HTML messages.
func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
