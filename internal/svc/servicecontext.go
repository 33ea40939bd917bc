package svc

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradedesk/internal/config"
	"tradedesk/pkg/cache"
	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/trade"
	"tradedesk/pkg/transport"
	_ "tradedesk/pkg/transport/sim"
	"tradedesk/pkg/view"
)

// simProvider is the backend type used when a test environment has no
// backend section.
const simProvider = "sim"

type ServiceContext struct {
	Config    config.Config
	Intervals cache.Intervals

	BackendConfig *transport.Config
	Backends      map[string]transport.Client
	Client        transport.Client

	Holdings *cache.Cache[portfolio.Holdings]
	Notifier *notify.Dispatcher
	Executor *trade.Executor
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	backendCfg, err := resolveBackend(c)
	if err != nil {
		return nil, err
	}
	backends, err := backendCfg.BuildProviders()
	if err != nil {
		return nil, err
	}
	client, ok := backends[backendCfg.Default]
	if !ok {
		return nil, fmt.Errorf("backend provider %s not built", backendCfg.Default)
	}

	intervals := c.Intervals()
	holdings := cache.New[portfolio.Holdings]()
	notifier := notify.New(notify.WithDuration(time.Duration(c.Sync.NotificationTTL) * time.Second))
	executor := trade.NewExecutor(client, holdings, notifier,
		trade.WithStaleness(intervals.TradeStaleness),
		trade.WithCurrency(c.Currency),
		trade.WithTransitionHook(func(tr trade.Transition) {
			if tr.Err != nil {
				logx.Infof("trade %s %s: %s -> %s: %v", tr.Request.Side, tr.Request.Ticker, tr.From, tr.To, tr.Err)
				return
			}
			logx.Infof("trade %s %s: %s -> %s", tr.Request.Side, tr.Request.Ticker, tr.From, tr.To)
		}),
	)

	logx.Infof("backend: using provider %s (%s)", backendCfg.Default, backendCfg.Providers[backendCfg.Default].Type)
	return &ServiceContext{
		Config:        c,
		Intervals:     intervals,
		BackendConfig: backendCfg,
		Backends:      backends,
		Client:        client,
		Holdings:      holdings,
		Notifier:      notifier,
		Executor:      executor,
	}, nil
}

// resolveBackend picks the backend section when configured. Otherwise it
// points a single http provider at BackendURL, or at the simulator in the
// test environment.
func resolveBackend(c config.Config) (*transport.Config, error) {
	if c.Backend.Value != nil {
		return c.Backend.Value, nil
	}
	provider := &transport.ProviderConfig{Type: "http", BaseURL: c.BackendURL}
	if c.IsTestEnv() {
		provider = &transport.ProviderConfig{Type: simProvider}
	}
	cfg := &transport.Config{
		Default:   "default",
		Providers: map[string]*transport.ProviderConfig{"default": provider},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewPortfolioView opens a portfolio screen polling at the configured rate.
func (s *ServiceContext) NewPortfolioView() *view.PortfolioView {
	return view.NewPortfolioView(s.Client, s.Holdings, s.Intervals.PortfolioRefresh)
}

// NewTradeView opens a trade screen sharing the executor and notifications.
func (s *ServiceContext) NewTradeView() *view.TradeView {
	return view.NewTradeView(s.Client, s.Executor, s.Notifier)
}

// Close stops every background poll.
func (s *ServiceContext) Close() {
	s.Holdings.Close()
}
