package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Fershtater/fomo-calc-app/internal/config"
	"github.com/Fershtater/fomo-calc-app/internal/fillmodel"
	"github.com/Fershtater/fomo-calc-app/internal/models"
	"github.com/Fershtater/fomo-calc-app/internal/storage"
)

type stubMarket struct {
	mu        sync.Mutex
	assets    []models.Asset
	books     map[string]*models.BookMetrics
	bookCalls map[string]int
}

func (m *stubMarket) FetchUniverse(ctx context.Context) ([]models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assets, nil
}

func (m *stubMarket) FetchOrderBook(ctx context.Context, coin string) (*models.BookMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bookCalls == nil {
		m.bookCalls = map[string]int{}
	}
	m.bookCalls[coin]++
	return m.books[coin], nil
}

func (m *stubMarket) calls(coin string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookCalls[coin]
}

type stubNotifier struct {
	sent []*models.Proposal
}

func (n *stubNotifier) Enabled() bool { return true }

func (n *stubNotifier) SendProposal(p *models.Proposal) (int64, int, error) {
	n.sent = append(n.sent, p)
	return 42, len(n.sent), nil
}

func passingAsset(coin string) models.Asset {
	return models.Asset{
		Coin:      coin,
		Funding:   0.000001,
		MarkPx:    100.0,
		MidPx:     100.0,
		OraclePx:  100.0,
		DayNtlVlm: 2e7,
	}
}

func passingBook() *models.BookMetrics {
	return &models.BookMetrics{
		BestBid:   99.99,
		BestAsk:   100.01,
		Mid:       100.0,
		Spread:    0.02,
		SpreadBps: 2.0,
		DepthTop:  20000.0,
	}
}

func newTestService(t *testing.T, market MarketData, notifier Notifier) (*Service, *storage.StateStore, *storage.WatchStateStore) {
	t.Helper()
	dir := t.TempDir()
	stateStore, err := storage.NewStateStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("failed to create state store: %v", err)
	}
	watchStore, err := storage.NewWatchStateStore(filepath.Join(dir, "watch_state.json"))
	if err != nil {
		t.Fatalf("failed to create watch state store: %v", err)
	}
	archive, err := storage.NewArchive(":memory:")
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	cfg := &config.Config{
		Watch: config.WatchConfig{
			MaxAlertsPerHour:    10,
			MetaRefreshInterval: time.Minute,
			PollIntervalFloor:   time.Millisecond,
			EvaluateNowLimit:    5,
		},
		Proposal: config.ProposalConfig{ExpiryMinutes: 15, SpamGuard: 15 * time.Second},
	}
	svc := NewService(market, notifier, nil, stateStore, watchStore, archive, fillmodel.NewService(), cfg)
	return svc, stateStore, watchStore
}

func setWatch(t *testing.T, store *storage.WatchStateStore, mutate func(*models.WatchState)) {
	t.Helper()
	if err := store.UpdateAtomic(mutate); err != nil {
		t.Fatalf("failed to update watch state: %v", err)
	}
}

func runCycles(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := svc.cycle(context.Background(), time.Now()); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}
}

func TestService_DispatchAfterDebounce(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	notifier := &stubNotifier{}
	svc, stateStore, watchStore := newTestService(t, market, notifier)
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.Config.PollIntervalSec = 0.001
		ws.Config.Side = models.WatchLong
	})

	runCycles(t, svc, 2)
	if len(notifier.sent) != 0 {
		t.Fatalf("dispatched after %d proposals before the debounce armed", len(notifier.sent))
	}

	runCycles(t, svc, 1)
	if len(notifier.sent) != 1 {
		t.Fatalf("got %d proposals after 3 passing cycles, want 1", len(notifier.sent))
	}
	prop := notifier.sent[0]
	if prop.Coin != "BTC" || prop.Side != models.SideLong {
		t.Errorf("got proposal %s %s, want BTC LONG", prop.Coin, prop.Side)
	}

	st, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	persisted := st.FindProposal(prop.ID)
	if persisted == nil {
		t.Fatal("proposal not persisted")
	}
	if persisted.Status != models.ProposalPending {
		t.Errorf("got status %s, want PENDING", persisted.Status)
	}
	if persisted.ChatID == nil || *persisted.ChatID != 42 {
		t.Error("chat id of the sent message not recorded")
	}
	if persisted.MessageID == nil || *persisted.MessageID != 1 {
		t.Error("message id of the sent message not recorded")
	}

	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if len(ws.LastAlerts) != 1 || ws.LastAlerts[0].ProposalID != prop.ID {
		t.Errorf("alert history not recorded: %+v", ws.LastAlerts)
	}
	if ws.LastAlertTs[models.AlertKey("BTC", models.SideLong)] == 0 {
		t.Error("alert timestamp not recorded")
	}
	if ws.LastPollTime == nil {
		t.Error("last poll time not recorded")
	}

	snap := svc.GetLastSnapshot()
	if !snap["BTC"].Passed {
		t.Error("snapshot cache missing the passing evaluation")
	}
}

func TestService_PausedStillRecordsSnapshots(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	notifier := &stubNotifier{}
	svc, stateStore, watchStore := newTestService(t, market, notifier)
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.Config.PollIntervalSec = 0.001
		ws.Enabled = false
	})

	runCycles(t, svc, 4)
	if len(notifier.sent) != 0 {
		t.Fatalf("paused watcher dispatched %d proposals", len(notifier.sent))
	}
	st, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(st.Proposals) != 0 {
		t.Errorf("paused watcher persisted %d proposals", len(st.Proposals))
	}

	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if _, ok := ws.LastSafeSnapshot["BTC"]; !ok {
		t.Error("paused watcher must still cache evaluations")
	}
}

func TestService_MutedCoinSkippedBeforeFetch(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	svc, _, watchStore := newTestService(t, market, &stubNotifier{})
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.Config.PollIntervalSec = 0.001
		ws.MutedCoins["BTC"] = float64(time.Now().Add(time.Hour).Unix())
	})

	runCycles(t, svc, 3)
	if got := market.calls("BTC"); got != 0 {
		t.Errorf("muted coin fetched %d times, want 0", got)
	}
	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if _, ok := ws.LastSafeSnapshot["BTC"]; ok {
		t.Error("muted coin must not be evaluated")
	}
}

func TestService_ExpiredMuteLifts(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	svc, _, watchStore := newTestService(t, market, &stubNotifier{})
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.Config.PollIntervalSec = 0.001
		ws.MutedCoins["BTC"] = float64(time.Now().Add(-time.Minute).Unix())
	})

	runCycles(t, svc, 1)
	if got := market.calls("BTC"); got != 1 {
		t.Errorf("coin with expired mute fetched %d times, want 1", got)
	}
	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if _, ok := ws.MutedCoins["BTC"]; ok {
		t.Error("expired mute must be lifted")
	}
}

func TestService_SpamGuardBlocksBackToBackDispatch(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	notifier := &stubNotifier{}
	svc, _, watchStore := newTestService(t, market, notifier)
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.Config.PollIntervalSec = 0.001
		ws.Config.CooldownSec = 0
	})

	// Side preference "either" arms both keys; both dispatch on the
	// third cycle, then the spam guard blocks the next cycles.
	runCycles(t, svc, 3)
	if len(notifier.sent) != 2 {
		t.Fatalf("got %d proposals after arming, want 2 (both sides)", len(notifier.sent))
	}
	runCycles(t, svc, 2)
	if len(notifier.sent) != 2 {
		t.Errorf("spam guard let %d proposals through back to back", len(notifier.sent)-2)
	}
}

func TestService_EvaluateNowBypassesMutes(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{passingAsset("BTC")},
		books:  map[string]*models.BookMetrics{"BTC": passingBook()},
	}
	svc, _, watchStore := newTestService(t, market, &stubNotifier{})
	setWatch(t, watchStore, func(ws *models.WatchState) {
		ws.MutedCoins["BTC"] = float64(time.Now().Add(time.Hour).Unix())
	})

	got := svc.EvaluateNow(context.Background())
	if len(got) != 1 {
		t.Fatalf("got %d passing candidates, want 1", len(got))
	}
	if !got["BTC"].Passed {
		t.Error("expected BTC to pass under forced evaluation")
	}
}

func TestService_EvaluateNowNilWhenNothingPasses(t *testing.T) {
	market := &stubMarket{
		assets: []models.Asset{{Coin: "BTC", Funding: 0.001, MarkPx: 100, MidPx: 100, OraclePx: 100, DayNtlVlm: 1000}},
		books: map[string]*models.BookMetrics{
			"BTC": {BestBid: 99.0, BestAsk: 101.0, Mid: 100.0, Spread: 2.0, SpreadBps: 200.0, DepthTop: 800.0},
		},
	}
	svc, _, _ := newTestService(t, market, &stubNotifier{})

	if got := svc.EvaluateNow(context.Background()); got != nil {
		t.Errorf("got %v, want nil map when nothing passes", got)
	}
}

func TestService_StartStop(t *testing.T) {
	market := &stubMarket{}
	svc, _, _ := newTestService(t, market, &stubNotifier{})

	if svc.Running() {
		t.Fatal("running before Start")
	}
	svc.Start()
	if !svc.Running() {
		t.Fatal("not running after Start")
	}
	svc.Start() // no-op
	svc.Stop()
	if svc.Running() {
		t.Fatal("running after Stop")
	}
	svc.Stop() // no-op
}

func TestService_PauseResume(t *testing.T) {
	svc, _, watchStore := newTestService(t, &stubMarket{}, &stubNotifier{})

	if err := svc.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if ws.Enabled {
		t.Error("still enabled after Pause")
	}

	if err := svc.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ws, err = watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if !ws.Enabled {
		t.Error("not enabled after Resume")
	}
}

func TestService_MuteUnmute(t *testing.T) {
	svc, _, watchStore := newTestService(t, &stubMarket{}, &stubNotifier{})

	if err := svc.Mute("btc", 30); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	until, ok := ws.MutedCoins["BTC"]
	if !ok {
		t.Fatal("mute not recorded under the uppercased coin")
	}
	wantMin := float64(time.Now().Add(29 * time.Minute).Unix())
	if until < wantMin {
		t.Errorf("mute expires too early: %v", until)
	}

	if err := svc.Unmute("BTC"); err != nil {
		t.Fatalf("Unmute: %v", err)
	}
	ws, err = watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if _, ok := ws.MutedCoins["BTC"]; ok {
		t.Error("mute survived Unmute")
	}
}

func TestService_UpdateConfigValidates(t *testing.T) {
	svc, _, watchStore := newTestService(t, &stubMarket{}, &stubNotifier{})

	bad := models.DefaultWatchConfig()
	bad.TopN = -1
	if err := svc.UpdateConfig(bad); err == nil {
		t.Error("expected validation error for negative top_n")
	}

	good := models.DefaultWatchConfig()
	good.ScoreThreshold = 92
	if err := svc.UpdateConfig(good); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	ws, err := watchStore.Load()
	if err != nil {
		t.Fatalf("Load watch state: %v", err)
	}
	if ws.Config.ScoreThreshold != 92 {
		t.Errorf("got threshold %v, want 92", ws.Config.ScoreThreshold)
	}
}

func TestTopByVolume(t *testing.T) {
	assets := []models.Asset{
		{Coin: "A", DayNtlVlm: 100},
		{Coin: "B", DayNtlVlm: 300},
		{Coin: "C", DayNtlVlm: 200},
	}
	top := topByVolume(assets, 2)
	if len(top) != 2 || top[0].Coin != "B" || top[1].Coin != "C" {
		t.Errorf("got %v, want B then C", top)
	}
	// Input order must survive.
	if assets[0].Coin != "A" {
		t.Error("topByVolume mutated its input")
	}
}

func TestNextBatchRoundRobin(t *testing.T) {
	svc := &Service{}
	top := []models.Asset{{Coin: "A"}, {Coin: "B"}, {Coin: "C"}, {Coin: "D"}, {Coin: "E"}, {Coin: "F"}}

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		for _, a := range svc.nextBatch(top) {
			seen[a.Coin]++
		}
	}
	if len(seen) != 6 {
		t.Fatalf("three batches covered %d coins, want all 6", len(seen))
	}
	for coin, n := range seen {
		if n != 1 {
			t.Errorf("coin %s visited %d times in one rotation", coin, n)
		}
	}
}
