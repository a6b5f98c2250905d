package telegram

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Fershtater/fomo-calc-app/internal/config"
	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
	"github.com/Fershtater/fomo-calc-app/internal/proposals"
	"github.com/Fershtater/fomo-calc-app/internal/storage"
)

const unauthorizedText = "❌ Unauthorized. Only the owner can use this bot."

// sender covers the Client methods the control plane replies through.
type sender interface {
	SendMessageTo(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int64, int, error)
	EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, showAlert bool) error
}

// Watcher is the control surface the bot exposes over the market watcher.
type Watcher interface {
	Running() bool
	Pause() error
	Resume() error
	Mute(coin string, minutes int) error
	Unmute(coin string) error
	EvaluateNow(ctx context.Context) map[string]models.SafeSnapshot
}

// Control routes operator commands and button presses to the stores and
// the watcher. It is single-user: only the configured owner is obeyed.
type Control struct {
	client        sender
	stateStore    *storage.StateStore
	watchStore    *storage.WatchStateStore
	archive       *storage.Archive
	svc           Watcher
	ownerID       int64
	allowedChatID string
	fees          config.FeesConfig
}

// NewControl creates the control plane around an authenticated client.
func NewControl(
	client *Client,
	stateStore *storage.StateStore,
	watchStore *storage.WatchStateStore,
	archive *storage.Archive,
	svc Watcher,
	tgCfg config.TelegramConfig,
	fees config.FeesConfig,
) *Control {
	return &Control{
		client:        client,
		stateStore:    stateStore,
		watchStore:    watchStore,
		archive:       archive,
		svc:           svc,
		ownerID:       tgCfg.OwnerID,
		allowedChatID: tgCfg.AllowedChatID,
		fees:          fees,
	}
}

// HandleUpdate processes one Telegram update. Pending proposals past
// their expiry are swept first so every decision sees current statuses.
func (c *Control) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if err := c.stateStore.UpdateAtomic(func(st *models.State) {
		proposals.ExpireAll(st, time.Now())
	}); err != nil {
		logger.Warn("Expiry sweep failed: %v", err)
	}

	switch {
	case update.CallbackQuery != nil:
		return c.handleCallback(update.CallbackQuery)
	case update.Message != nil:
		return c.handleMessage(ctx, update.Message)
	}
	return nil
}

// isOwner checks the caller against the configured owner and the
// optional chat restriction. An unset owner locks everyone out.
func (c *Control) isOwner(userID, chatID int64) bool {
	if c.ownerID == 0 || userID != c.ownerID {
		return false
	}
	if c.allowedChatID != "" && strconv.FormatInt(chatID, 10) != c.allowedChatID {
		return false
	}
	return true
}

func (c *Control) handleCallback(cb *tgbotapi.CallbackQuery) error {
	var userID int64
	if cb.From != nil {
		userID = cb.From.ID
	}
	var chatID int64
	var messageID int
	if cb.Message != nil {
		messageID = cb.Message.MessageID
		if cb.Message.Chat != nil {
			chatID = cb.Message.Chat.ID
		}
	}

	if !c.isOwner(userID, chatID) {
		return c.client.AnswerCallback(cb.ID, unauthorizedText, true)
	}

	// Stop the button spinner before doing any work.
	if err := c.client.AnswerCallback(cb.ID, "", false); err != nil {
		logger.Warn("Failed to answer callback %s: %v", cb.ID, err)
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, "ACCEPT:"):
		return c.decideProposal(cb.ID, strings.TrimPrefix(data, "ACCEPT:"), true, userID, chatID, messageID)

	case strings.HasPrefix(data, "REJECT:"):
		return c.decideProposal(cb.ID, strings.TrimPrefix(data, "REJECT:"), false, userID, chatID, messageID)

	case data == "PAUSE":
		if err := c.pauseWatcher(); err != nil {
			return err
		}
		logger.Info("Watcher paused via Telegram by user %d", userID)
		return c.client.AnswerCallback(cb.ID, "⏸ Watcher paused", false)

	case data == "RESUME":
		if err := c.resumeWatcher(); err != nil {
			return err
		}
		logger.Info("Watcher resumed via Telegram by user %d", userID)
		return c.client.AnswerCallback(cb.ID, "▶️ Watcher resumed", false)

	case strings.HasPrefix(data, "MUTE:"):
		parts := strings.Split(data, ":")
		if len(parts) < 3 {
			return nil
		}
		coin := parts[1]
		minutes, err := strconv.Atoi(parts[2])
		if err != nil || minutes <= 0 {
			minutes = 60
		}
		if err := c.muteCoin(coin, minutes); err != nil {
			return err
		}
		return c.client.AnswerCallback(cb.ID, fmt.Sprintf("🔕 Muted %s for %dm", coin, minutes), false)

	case data == "NEXT":
		return c.client.AnswerCallback(cb.ID, "Use /next command for best candidate", false)

	case data == "STATUS":
		return c.client.AnswerCallback(cb.ID, "Use /status command for detailed status", false)
	}
	return nil
}

// decideProposal applies an accept or reject atomically and edits the
// proposal card to show the outcome. Duplicate presses get an alert
// with the already-settled status.
func (c *Control) decideProposal(callbackID, proposalID string, accept bool, userID, chatID int64, messageID int) error {
	now := time.Now()

	var prop *models.Proposal
	decided := false
	err := c.stateStore.UpdateAtomic(func(st *models.State) {
		if accept {
			decided = proposals.Accept(st, proposalID, userID, c.fees.TakerFee, c.fees.MakerFee, now) != nil
		} else {
			decided = proposals.Reject(st, proposalID, userID, now)
		}
		prop = st.FindProposal(proposalID)
	})
	if err != nil {
		return err
	}

	if decided && prop != nil {
		banner := "✅ <b>ACCEPTED</b>"
		action := "accepted"
		if !accept {
			banner = "❌ <b>REJECTED</b>"
			action = "rejected"
		}
		text := fmt.Sprintf("%s at %s UTC\n\n%s", banner, now.UTC().Format("15:04:05"), formatProposalMessage(prop, now))
		kb := decidedKeyboard()
		if err := c.client.EditMessage(chatID, messageID, text, &kb); err != nil {
			logger.Warn("Failed to edit proposal card: %v", err)
		}
		logger.Info("Proposal %s %s via Telegram", proposalID, action)
		return nil
	}

	if prop != nil && prop.Status != models.ProposalPending {
		var statusText string
		switch prop.Status {
		case models.ProposalAccepted:
			statusText = "✅ Already accepted"
		case models.ProposalRejected:
			statusText = "❌ Already rejected"
		case models.ProposalExpired:
			statusText = "⏰ Expired"
		default:
			statusText = "Already handled"
		}
		return c.client.AnswerCallback(callbackID, statusText, true)
	}
	return nil
}

func (c *Control) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	text := msg.Text
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	var userID int64
	username := ""
	if msg.From != nil {
		userID = msg.From.ID
		username = msg.From.UserName
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}

	if !c.isOwner(userID, chatID) {
		_, _, err := c.client.SendMessageTo(chatID, unauthorizedText, nil)
		return err
	}

	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])

	switch command {
	case "/start", "/help":
		return c.replyHelp(chatID)

	case "/whoami":
		return c.replyWhoami(chatID, userID, username)

	case "/status":
		return c.replyStatus(chatID)

	case "/pause":
		if err := c.pauseWatcher(); err != nil {
			return err
		}
		logger.Info("Watcher paused by user %d", userID)
		return c.reply(chatID, "⏸ Watcher paused. Use /resume to resume.")

	case "/resume":
		if err := c.resumeWatcher(); err != nil {
			return err
		}
		logger.Info("Watcher resumed by user %d", userID)
		return c.reply(chatID, "▶️ Watcher resumed.")

	case "/mute":
		if len(parts) < 2 {
			return c.reply(chatID, "Usage: /mute &lt;COIN&gt; [minutes]\nExample: /mute BTC 60")
		}
		coin := strings.ToUpper(parts[1])
		minutes := 60
		if len(parts) > 2 {
			if v, err := strconv.Atoi(parts[2]); err == nil && v > 0 {
				minutes = v
			}
		}
		if err := c.muteCoin(coin, minutes); err != nil {
			return err
		}
		return c.reply(chatID, fmt.Sprintf("🔕 Muted %s for %d minutes.", coin, minutes))

	case "/unmute":
		if len(parts) < 2 {
			return c.reply(chatID, "Usage: /unmute &lt;COIN&gt;\nExample: /unmute BTC")
		}
		coin := strings.ToUpper(parts[1])
		if err := c.unmuteCoin(coin); err != nil {
			return err
		}
		return c.reply(chatID, fmt.Sprintf("🔔 Unmuted %s.", coin))

	case "/mutes":
		return c.replyMutes(chatID)

	case "/history":
		return c.replyHistory(chatID, parts[1:])

	case "/next":
		return c.replyNext(ctx, chatID)
	}
	return nil
}

func (c *Control) reply(chatID int64, text string) error {
	_, _, err := c.client.SendMessageTo(chatID, text, nil)
	return err
}

func (c *Control) replyHelp(chatID int64) error {
	msg := strings.Join([]string{
		"<b>🤖 FomoCalc Watcher</b>",
		"",
		"/status - watcher and plan progress",
		"/pause - pause proposal dispatch",
		"/resume - resume proposal dispatch",
		"/mute &lt;COIN&gt; [minutes] - mute a coin",
		"/unmute &lt;COIN&gt; - unmute a coin",
		"/mutes - list active mutes",
		"/history [n] - recent proposals",
		"/next - best current candidate",
		"/whoami - caller and watcher info",
	}, "\n")
	return c.reply(chatID, msg)
}

func (c *Control) replyWhoami(chatID, userID int64, username string) error {
	ws, err := c.watchStore.Load()
	if err != nil {
		return err
	}

	name := "N/A"
	if username != "" {
		name = escapeHTML(username)
	}

	msg := strings.Join([]string{
		"<b>👤 User Info</b>",
		"",
		fmt.Sprintf("<b>User ID:</b> <code>%d</code>", userID),
		fmt.Sprintf("<b>Chat ID:</b> <code>%d</code>", chatID),
		fmt.Sprintf("<b>Username:</b> @%s", name),
		"<b>Bot Mode:</b> polling",
		fmt.Sprintf("<b>Watcher Running:</b> %s", runningText(c.watcherRunning(ws))),
		fmt.Sprintf("<b>Watcher Enabled:</b> %s", enabledText(ws.Enabled)),
	}, "\n")
	return c.reply(chatID, msg)
}

func (c *Control) replyStatus(chatID int64) error {
	st, err := c.stateStore.Load()
	if err != nil {
		return err
	}
	ws, err := c.watchStore.Load()
	if err != nil {
		return err
	}

	now := time.Now()

	activeTrades := 0
	for i := range st.Trades {
		if st.Trades[i].ClosePrice == nil {
			activeTrades++
		}
	}
	pending := len(st.PendingProposals())

	alertsLastHour := 0
	if c.archive != nil {
		n, err := c.archive.AlertsInLastHour(now)
		if err != nil {
			logger.Warn("Alert archive query failed: %v", err)
		} else {
			alertsLastHour = n
		}
	}

	lastTick := "Never"
	if ws.LastPollTime != nil {
		lastTick = ws.LastPollTime.UTC().Format("2006-01-02T15:04:05") + " UTC"
	}

	muted := "none"
	if mutes := activeMutes(ws.MutedCoins, now); len(mutes) > 0 {
		muted = strings.Join(mutes, ", ")
	}

	lines := []string{
		"<b>📊 FomoCalc Status</b>",
		"",
		"<b>Watcher:</b>",
		fmt.Sprintf("Running: %s", runningText(c.watcherRunning(ws))),
		fmt.Sprintf("Enabled: %s", enabledText(ws.Enabled)),
		fmt.Sprintf("Poll Interval: %gs", ws.Config.PollIntervalSec),
		fmt.Sprintf("Top N: %d", ws.Config.TopN),
		fmt.Sprintf("Side: %s", ws.Config.Side),
		fmt.Sprintf("Funding Kind: %s", ws.Config.FundingKind),
		fmt.Sprintf("Score Threshold: %.0f/100", ws.Config.ScoreThreshold),
		fmt.Sprintf("Cooldown: %gs", ws.Config.CooldownSec),
		fmt.Sprintf("Muted: %s", muted),
		fmt.Sprintf("Last Tick: %s", lastTick),
		fmt.Sprintf("Alerts (1h): %d", alertsLastHour),
		"",
		"<b>Plan Progress:</b>",
		fmt.Sprintf("Total Volume: $%s", money(st.Stats.TotalVolumeDone)),
		fmt.Sprintf("Remaining: $%s", money(math.Max(0, st.Plan.TargetVolume-st.Stats.TotalVolumeDone))),
		fmt.Sprintf("Frozen Remaining: $%s", money(st.Stats.FrozenRemaining)),
		fmt.Sprintf("FOMO Minted Est: %.2f", st.Stats.EstimatedFomoMinted),
		"",
		fmt.Sprintf("<b>Active Trades:</b> %d", activeTrades),
		fmt.Sprintf("<b>Pending Proposals:</b> %d", pending),
		"",
		fmt.Sprintf("<b>Total Fees:</b> $%.2f", st.Stats.TotalFees),
		fmt.Sprintf("<b>Funding PnL:</b> $%.2f", st.Stats.TotalFundingPnl),
	}

	if c.archive != nil {
		if total, dispatched, err := c.archive.Counts(); err == nil {
			lines = append(lines, "", fmt.Sprintf("<b>Archive:</b> %d evaluations, %d dispatched", total, dispatched))
		}
	}

	return c.reply(chatID, strings.Join(lines, "\n"))
}

func (c *Control) replyMutes(chatID int64) error {
	ws, err := c.watchStore.Load()
	if err != nil {
		return err
	}

	mutes := activeMutes(ws.MutedCoins, time.Now())
	if len(mutes) == 0 {
		return c.reply(chatID, "No active mutes.")
	}
	return c.reply(chatID, "<b>🔕 Active Mutes:</b>\n"+strings.Join(mutes, "\n"))
}

func (c *Control) replyHistory(chatID int64, args []string) error {
	n := 10
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v >= 0 {
			n = v
		}
	}

	st, err := c.stateStore.Load()
	if err != nil {
		return err
	}

	props := make([]*models.Proposal, 0, len(st.Proposals))
	for _, p := range st.Proposals {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].CreatedAt.After(props[j].CreatedAt) })
	if len(props) > n {
		props = props[:n]
	}

	if len(props) == 0 {
		return c.reply(chatID, "No proposals found.")
	}

	lines := []string{fmt.Sprintf("<b>📜 Last %d Proposals:</b>", len(props)), ""}
	for _, p := range props {
		lines = append(lines, fmt.Sprintf("%s %s %s | Score: %.0f | %s",
			statusEmoji(p.Status), p.Coin, p.Side, p.Score, p.CreatedAt.UTC().Format("2006-01-02T15:04:05")))
	}
	return c.reply(chatID, strings.Join(lines, "\n"))
}

func (c *Control) replyNext(ctx context.Context, chatID int64) error {
	if c.svc == nil {
		return c.reply(chatID, "❌ Watcher service not available.")
	}

	snapshot := c.svc.EvaluateNow(ctx)
	if len(snapshot) == 0 {
		return c.reply(chatID, "No safe entry candidates found at this time.")
	}

	bestCoin := ""
	var best models.SafeSnapshot
	for coin, snap := range snapshot {
		if bestCoin == "" || snap.Score > best.Score {
			bestCoin, best = coin, snap
		}
	}

	msg := strings.Join([]string{
		"<b>🔄 Best Current Candidate:</b>",
		"",
		fmt.Sprintf("<b>%s</b>", bestCoin),
		fmt.Sprintf("Score: %.0f/100", best.Score),
		fmt.Sprintf("Reasons: %s", strings.Join(firstN(best.Reasons, 3), ", ")),
	}, "\n")
	return c.reply(chatID, msg)
}

// The watcher service owns pause, resume, and mute updates when wired;
// the direct store path keeps the bot usable without it.

func (c *Control) pauseWatcher() error {
	if c.svc != nil {
		return c.svc.Pause()
	}
	return c.watchStore.UpdateAtomic(func(ws *models.WatchState) { ws.Enabled = false })
}

func (c *Control) resumeWatcher() error {
	if c.svc != nil {
		return c.svc.Resume()
	}
	return c.watchStore.UpdateAtomic(func(ws *models.WatchState) { ws.Enabled = true })
}

func (c *Control) muteCoin(coin string, minutes int) error {
	if c.svc != nil {
		return c.svc.Mute(coin, minutes)
	}
	until := float64(time.Now().Add(time.Duration(minutes) * time.Minute).Unix())
	return c.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		ws.MutedCoins[strings.ToUpper(coin)] = until
	})
}

func (c *Control) unmuteCoin(coin string) error {
	if c.svc != nil {
		return c.svc.Unmute(coin)
	}
	return c.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		delete(ws.MutedCoins, strings.ToUpper(coin))
	})
}

func (c *Control) watcherRunning(ws *models.WatchState) bool {
	if c.svc != nil {
		return c.svc.Running()
	}
	return ws.IsRunning
}

// activeMutes renders mutes that have not expired yet, sorted by coin.
func activeMutes(mutedCoins map[string]float64, now time.Time) []string {
	nowTs := float64(now.Unix())
	var out []string
	for coin, until := range mutedCoins {
		if until > nowTs {
			out = append(out, fmt.Sprintf("%s: %dm", coin, int((until-nowTs)/60)))
		}
	}
	sort.Strings(out)
	return out
}

func statusEmoji(s models.ProposalStatus) string {
	switch s {
	case models.ProposalPending:
		return "⏳"
	case models.ProposalAccepted:
		return "✅"
	case models.ProposalRejected:
		return "❌"
	case models.ProposalExpired:
		return "⏰"
	}
	return "❓"
}

func runningText(running bool) string {
	if running {
		return "🟢 Yes"
	}
	return "🔴 No"
}

func enabledText(enabled bool) string {
	if enabled {
		return "✅ Yes"
	}
	return "⏸ Paused"
}

func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}
