package watcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fershtater/fomo-calc-app/internal/config"
	"github.com/Fershtater/fomo-calc-app/internal/fillmodel"
	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
	"github.com/Fershtater/fomo-calc-app/internal/proposals"
	"github.com/Fershtater/fomo-calc-app/internal/scoring"
	"github.com/Fershtater/fomo-calc-app/internal/storage"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultSpamGuard    = 15 * time.Second
	defaultHoldMinutes  = 60
	estimateNotional    = 1000.0
	failureEscalation   = 3
)

// MarketData supplies the perpetuals universe and per-instrument order books.
type MarketData interface {
	FetchUniverse(ctx context.Context) ([]models.Asset, error)
	FetchOrderBook(ctx context.Context, coin string) (*models.BookMetrics, error)
}

// Notifier dispatches proposals to the operator and reports the chat
// and message ids of the sent message.
type Notifier interface {
	Enabled() bool
	SendProposal(p *models.Proposal) (int64, int, error)
}

// SentimentProvider supplies an optional directional bias per coin.
type SentimentProvider interface {
	Bias(ctx context.Context, coin string) models.Bias
}

// Service runs the background scan loop that scores instruments and
// dispatches entry proposals. Exactly one loop goroutine runs at a time;
// it is the sole writer of the debounce state, the rate-limit window,
// and the universe cache.
type Service struct {
	market     MarketData
	notifier   Notifier
	sentiment  SentimentProvider
	stateStore *storage.StateStore
	watchStore *storage.WatchStateStore
	archive    *storage.Archive
	fills      *fillmodel.Service

	watchCfg    config.WatchConfig
	proposalCfg config.ProposalConfig

	debounce *Debouncer
	limiter  *RateLimiter

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	lastSnapshot map[string]models.SafeSnapshot

	cursor        int
	cachedAssets  []models.Asset
	lastMetaFetch time.Time
}

// NewService wires a watcher from its collaborators. The sentiment
// provider and archive may be nil.
func NewService(
	market MarketData,
	notifier Notifier,
	sentiment SentimentProvider,
	stateStore *storage.StateStore,
	watchStore *storage.WatchStateStore,
	archive *storage.Archive,
	fills *fillmodel.Service,
	cfg *config.Config,
) *Service {
	return &Service{
		market:       market,
		notifier:     notifier,
		sentiment:    sentiment,
		stateStore:   stateStore,
		watchStore:   watchStore,
		archive:      archive,
		fills:        fills,
		watchCfg:     cfg.Watch,
		proposalCfg:  cfg.Proposal,
		debounce:     NewDebouncer(0, 0),
		limiter:      NewRateLimiter(cfg.Watch.MaxAlertsPerHour),
		lastSnapshot: map[string]models.SafeSnapshot{},
	}
}

// Start launches the scan loop. Starting a running watcher is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		logger.Warn("Watcher is already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	go s.run(ctx)
	logger.Info("Watcher started")
}

// Stop cancels the scan loop. An in-flight cycle finishes on its own;
// Stop only prevents the next one.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		logger.Warn("Watcher is not running")
		return
	}
	s.cancel()
	s.running = false
	logger.Info("Watcher stopped")
}

// Running reports whether the scan loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pause disables proposal dispatch without stopping the scan loop.
func (s *Service) Pause() error {
	return s.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		ws.Enabled = false
	})
}

// Resume re-enables proposal dispatch.
func (s *Service) Resume() error {
	return s.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		ws.Enabled = true
	})
}

// Mute suppresses proposals for coin for the given number of minutes
// (default 60 when non-positive).
func (s *Service) Mute(coin string, minutes int) error {
	if minutes <= 0 {
		minutes = 60
	}
	until := float64(time.Now().Add(time.Duration(minutes) * time.Minute).Unix())
	return s.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		ws.MutedCoins[strings.ToUpper(coin)] = until
	})
}

// Unmute lifts a mute before it expires.
func (s *Service) Unmute(coin string) error {
	return s.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		delete(ws.MutedCoins, strings.ToUpper(coin))
	})
}

// UpdateConfig validates and persists a new watch configuration. The
// next cycle picks it up.
func (s *Service) UpdateConfig(cfg models.WatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.watchStore.UpdateAtomic(func(ws *models.WatchState) {
		ws.Config = cfg
	})
}

// GetState returns the persisted watcher state with the live running flag.
func (s *Service) GetState() (*models.WatchState, error) {
	ws, err := s.watchStore.Load()
	if err != nil {
		return nil, err
	}
	ws.IsRunning = s.Running()
	return ws, nil
}

// GetLastSnapshot returns a copy of the most recent evaluation per coin.
func (s *Service) GetLastSnapshot() map[string]models.SafeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.SafeSnapshot, len(s.lastSnapshot))
	for coin, snap := range s.lastSnapshot {
		out[coin] = snap
	}
	return out
}

// EvaluateNow scores the top instruments immediately, bypassing mutes,
// debounce, cooldowns, and the rate limit, and returns the snapshots
// that pass. A nil map means no candidate passed.
func (s *Service) EvaluateNow(ctx context.Context) map[string]models.SafeSnapshot {
	ws, err := s.watchStore.Load()
	if err != nil {
		logger.Error("Failed to load watch state: %v", err)
		return nil
	}
	assets, err := s.market.FetchUniverse(ctx)
	if err != nil {
		logger.Error("Failed to fetch universe: %v", err)
		return nil
	}
	limit := s.watchCfg.EvaluateNowLimit
	if limit <= 0 {
		limit = 5
	}
	var passing map[string]models.SafeSnapshot
	for _, asset := range topByVolume(assets, limit) {
		book, err := s.market.FetchOrderBook(ctx, asset.Coin)
		if err != nil {
			logger.Warn("Failed to fetch book for %s: %v", asset.Coin, err)
			continue
		}
		score := scoring.EvaluateSafeEntry(asset, book, ws.Config)
		if score == nil || !score.Passed {
			continue
		}
		if passing == nil {
			passing = map[string]models.SafeSnapshot{}
		}
		passing[asset.Coin] = snapshotOf(score)
	}
	return passing
}

func (s *Service) run(ctx context.Context) {
	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		interval, err := s.cycle(ctx, start)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			if consecutiveFailures >= failureEscalation {
				logger.Error("Watcher cycle failed (%d in a row): %v", consecutiveFailures, err)
			} else {
				logger.Warn("Watcher cycle failed: %v", err)
			}
			sleepCtx(ctx, interval)
			continue
		}
		consecutiveFailures = 0
		if rest := interval - time.Since(start); rest > 0 {
			sleepCtx(ctx, rest)
		}
	}
}

// cycle performs one scan pass and returns the poll interval to honor
// before the next one.
func (s *Service) cycle(ctx context.Context, start time.Time) (time.Duration, error) {
	ws, err := s.watchStore.Load()
	if err != nil {
		return defaultPollInterval, fmt.Errorf("failed to load watch state: %w", err)
	}
	interval := time.Duration(ws.Config.PollIntervalSec * float64(time.Second))
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if err := s.refreshUniverse(ctx, start); err != nil {
		return interval, err
	}

	top := topByVolume(s.cachedAssets, ws.Config.TopN)
	if len(top) == 0 {
		return interval, nil
	}
	batch := s.nextBatch(top)

	pace := interval / time.Duration(len(batch))
	if floor := s.pollFloor(); pace < floor {
		pace = floor
	}
	pacer := rate.NewLimiter(rate.Every(pace), 1)

	spamGuard := s.proposalCfg.SpamGuard
	if spamGuard <= 0 {
		spamGuard = defaultSpamGuard
	}
	expiry := time.Duration(s.proposalCfg.ExpiryMinutes) * time.Minute

	// Mutations are collected per cycle and merged into the persisted
	// state in one atomic update at the end.
	cycleSnapshots := map[string]models.SafeSnapshot{}
	alertTs := map[string]float64{}
	var unmutes []string
	var newAlerts []models.AlertRecord
	lastProposalTime := ws.LastProposalTime

	for _, asset := range batch {
		if ctx.Err() != nil {
			break
		}
		coin := asset.Coin
		now := time.Now()
		nowTs := float64(now.Unix())

		// Mute check comes before any network call; expired mutes lift
		// opportunistically.
		if until, ok := ws.MutedCoins[coin]; ok {
			if nowTs < until {
				continue
			}
			delete(ws.MutedCoins, coin)
			unmutes = append(unmutes, coin)
			logger.Info("Mute expired for %s", coin)
		}

		if err := pacer.Wait(ctx); err != nil {
			break
		}
		book, err := s.market.FetchOrderBook(ctx, coin)
		if err != nil {
			logger.Warn("Failed to fetch book for %s: %v", coin, err)
			continue
		}

		s.fills.AddSnapshot(coin, fillmodel.Snapshot{
			Mid:       book.Mid,
			Bid:       book.BestBid,
			Ask:       book.BestAsk,
			SpreadBps: book.SpreadBps,
			DepthTop:  book.DepthTop,
			Ts:        now,
		})

		score := scoring.EvaluateSafeEntry(asset, book, ws.Config)
		if score == nil {
			continue
		}
		cycleSnapshots[coin] = snapshotOf(score)
		s.archiveRow(&storage.AlertRow{
			Ts:      now,
			Coin:    coin,
			Score:   score.TotalScore,
			Passed:  score.Passed,
			Reasons: score.Reasons,
		})

		// Paused watcher keeps evaluating so snapshots stay fresh.
		if !ws.Enabled {
			continue
		}
		if lastProposalTime > 0 && nowTs-lastProposalTime < spamGuard.Seconds() {
			logger.Debug("Spam guard active, skipping dispatch for %s", coin)
			continue
		}

		for _, side := range allowedSides(ws.Config.Side) {
			key := models.AlertKey(coin, side)
			if !s.debounce.ShouldTrigger(key, score.TotalScore, ws.Config.ScoreThreshold) {
				continue
			}
			if !score.Passed {
				continue
			}
			last := ws.LastAlertTs[key]
			if local, ok := alertTs[key]; ok {
				last = local
			}
			if ws.Config.CooldownSec > 0 && last > 0 && nowTs-last < ws.Config.CooldownSec {
				logger.Debug("Cooldown active for %s", key)
				continue
			}
			if !s.limiter.Admit(now) {
				logger.Warn("Alert rate limit reached, suppressing %s %s", coin, side)
				continue
			}

			bias := models.BiasNeutral
			if ws.Config.SentimentEnabled && s.sentiment != nil {
				bias = s.sentiment.Bias(ctx, coin)
			}
			fills := models.FillProbs{
				OpenFillProb:  s.fills.Estimate(coin, book.SpreadBps, book.DepthTop, estimateNotional, ws.Config.OpenOffsetBps, bias),
				CloseFillProb: s.fills.Estimate(coin, book.SpreadBps, book.DepthTop, estimateNotional, ws.Config.CloseOffsetBps, bias),
			}

			var prop *models.Proposal
			err := s.stateStore.UpdateAtomic(func(st *models.State) {
				sizing := proposals.Sizing{
					Margin:         st.Plan.DefaultMargin,
					Leverage:       st.Plan.DefaultLeverage,
					HoldMin:        defaultHoldMinutes,
					FeeMode:        models.FeeModeMaker,
					FundingKind:    ws.Config.FundingKind,
					OpenOffsetBps:  ws.Config.OpenOffsetBps,
					CloseOffsetBps: ws.Config.CloseOffsetBps,
				}
				prop = proposals.Create(score, coin, side, fills, sizing, expiry, now)
				st.AddProposal(prop)
			})
			if err != nil {
				logger.Error("Failed to persist proposal for %s: %v", coin, err)
				continue
			}

			if s.notifier != nil && s.notifier.Enabled() && ws.Config.TelegramEnabled {
				chatID, messageID, err := s.notifier.SendProposal(prop)
				if err != nil {
					logger.Error("Failed to send proposal %s: %v", prop.ID, err)
				} else if err := s.stateStore.UpdateAtomic(func(st *models.State) {
					if p := st.FindProposal(prop.ID); p != nil {
						p.ChatID = &chatID
						p.MessageID = &messageID
					}
				}); err != nil {
					logger.Warn("Failed to record message ids for %s: %v", prop.ID, err)
				}
			}

			alertTs[key] = nowTs
			lastProposalTime = nowTs
			s.limiter.Record(now)
			newAlerts = append(newAlerts, models.AlertRecord{
				Coin:        coin,
				Side:        side,
				Timestamp:   now.UTC().Format(time.RFC3339),
				TimestampTs: nowTs,
				Score:       score.TotalScore,
				Reasons:     score.Reasons,
				ProposalID:  prop.ID,
			})
			s.archiveRow(&storage.AlertRow{
				Ts:         now,
				Coin:       coin,
				Side:       string(side),
				Score:      score.TotalScore,
				Passed:     true,
				ProposalID: prop.ID,
				Reasons:    score.Reasons,
			})
			logger.Info("Proposal %s dispatched (score %.2f)", prop.ID, score.TotalScore)
		}
	}

	pollTime := time.Now().UTC()
	err = s.watchStore.UpdateAtomic(func(fresh *models.WatchState) {
		for _, coin := range unmutes {
			delete(fresh.MutedCoins, coin)
		}
		for coin, snap := range cycleSnapshots {
			fresh.LastSafeSnapshot[coin] = snap
		}
		for key, ts := range alertTs {
			fresh.LastAlertTs[key] = ts
		}
		if lastProposalTime > fresh.LastProposalTime {
			fresh.LastProposalTime = lastProposalTime
		}
		for _, rec := range newAlerts {
			fresh.AppendAlert(rec)
		}
		fresh.LastPollTime = &pollTime
	})
	if err != nil {
		return interval, fmt.Errorf("failed to persist watch state: %w", err)
	}

	s.mu.Lock()
	for coin, snap := range cycleSnapshots {
		s.lastSnapshot[coin] = snap
	}
	s.mu.Unlock()

	return interval, nil
}

// refreshUniverse refetches the instrument universe on its own slower
// cadence, keeping the previous cache between refreshes.
func (s *Service) refreshUniverse(ctx context.Context, now time.Time) error {
	refresh := s.watchCfg.MetaRefreshInterval
	if refresh <= 0 {
		refresh = time.Minute
	}
	if len(s.cachedAssets) > 0 && now.Sub(s.lastMetaFetch) < refresh {
		return nil
	}
	assets, err := s.market.FetchUniverse(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh universe: %w", err)
	}
	s.cachedAssets = assets
	s.lastMetaFetch = now
	logger.Debug("Universe refreshed: %d instruments", len(assets))
	return nil
}

// nextBatch returns the current third of the top list and advances the
// round-robin cursor so the full set is covered over about three cycles.
func (s *Service) nextBatch(top []models.Asset) []models.Asset {
	perTick := len(top) / 3
	if perTick < 1 {
		perTick = 1
	}
	if s.cursor >= len(top) {
		s.cursor = 0
	}
	batch := make([]models.Asset, 0, perTick)
	for i := 0; i < perTick; i++ {
		batch = append(batch, top[(s.cursor+i)%len(top)])
	}
	s.cursor = (s.cursor + perTick) % len(top)
	return batch
}

func (s *Service) pollFloor() time.Duration {
	if s.watchCfg.PollIntervalFloor > 0 {
		return s.watchCfg.PollIntervalFloor
	}
	return 2 * time.Second
}

func (s *Service) archiveRow(row *storage.AlertRow) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Record(row); err != nil {
		logger.Warn("Failed to archive alert for %s: %v", row.Coin, err)
	}
}

func snapshotOf(score *models.SafeEntryScore) models.SafeSnapshot {
	return models.SafeSnapshot{
		Score:   score.TotalScore,
		Passed:  score.Passed,
		Metrics: score.Metrics,
		Reasons: score.Reasons,
	}
}

func topByVolume(assets []models.Asset, n int) []models.Asset {
	sorted := make([]models.Asset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DayNtlVlm > sorted[j].DayNtlVlm
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func allowedSides(side models.WatchSide) []models.Side {
	var sides []models.Side
	if side.AllowsLong() {
		sides = append(sides, models.SideLong)
	}
	if side.AllowsShort() {
		sides = append(sides, models.SideShort)
	}
	return sides
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
