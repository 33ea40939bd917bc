package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"tradedesk/internal/cli"
	"tradedesk/internal/config"
	"tradedesk/internal/svc"
	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/view"
)

var configFile = flag.String("f", "etc/tradedesk.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx, err := svc.NewServiceContext(*cfg)
	if err != nil {
		logx.Errorf("build service context: %v", err)
		return
	}
	defer svcCtx.Close()

	notes, cancel := svcCtx.Notifier.Subscribe()
	defer cancel()
	threading.GoSafe(func() { logNotifications(notes) })

	pv := svcCtx.NewPortfolioView()
	defer pv.Close()

	logx.Infof("watching portfolio every %s", svcCtx.Intervals.PortfolioRefresh)
	watchPortfolio(ctx, pv, svcCtx.Notifier, cfg.Currency)
	logx.Info("shutting down")
}

func watchPortfolio(ctx context.Context, pv *view.PortfolioView, notifier *notify.Dispatcher, currency string) {
	prune := time.NewTicker(notifier.Duration())
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-prune.C:
			notifier.Prune(now)
		case snap, ok := <-pv.Updates():
			if !ok {
				return
			}
			logSnapshot(snap, currency)
		}
	}
}

func logSnapshot(snap view.Snapshot, currency string) {
	switch {
	case snap.Err != nil && !snap.Loaded:
		logx.Errorf("portfolio: not loaded: %v", snap.Err)
		return
	case snap.Empty:
		logx.Info("portfolio: no holdings")
		return
	}

	m := snap.Metrics
	logx.Infof("portfolio: value %s invested %s growth %s%% (%s)",
		portfolio.FormatMoney(m.TotalValue, currency),
		portfolio.FormatMoney(m.TotalInvested, currency),
		m.GrowthPercent.StringFixed(2), snap.Trend)
	for _, p := range snap.Positions {
		logx.Infof("  %-6s %4d  value %s  p/l %s", p.Ticker, p.Quantity,
			portfolio.FormatMoney(p.MarketValue, currency),
			portfolio.FormatMoney(p.ProfitLoss, currency))
	}
	if snap.Err != nil {
		logx.Errorf("portfolio: showing data from %s, refresh failed: %v", snap.UpdatedAt.Format(time.Kitchen), snap.Err)
	}
}

func logNotifications(notes <-chan notify.Notification) {
	for n := range notes {
		if n.Kind == notify.KindSuccess {
			logx.Infof("[%s] %s: %s", n.Kind, n.Title, n.Description)
			continue
		}
		logx.Errorf("[%s] %s: %s", n.Kind, n.Title, n.Description)
	}
}
