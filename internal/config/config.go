package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/service"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/confkit"
	"tradedesk/pkg/transport"
)

// SyncConf holds the polling and staleness intervals, in seconds.
type SyncConf struct {
	PortfolioRefresh int `json:",default=5"`
	TradeStaleness   int `json:",default=300"`
	NotificationTTL  int `json:",default=5"`
}

type Config struct {
	service.ServiceConf
	// Env is test | dev | prod. In test, an unconfigured backend falls back
	// to the in-memory simulator.
	Env        string   `json:",default=dev"`
	BackendURL string   `json:",default=http://localhost:3001"`
	Currency   string   `json:",default=USD"`
	Sync       SyncConf `json:",optional"`

	Backend confkit.Section[transport.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test"
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.hydrateSections(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	switch env {
	case "":
		env = "dev"
	case "test", "dev", "prod":
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	c.Env = env

	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	if c.BackendURL == "" {
		return errors.New("config: backendURL is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backendURL %q is not an absolute url", c.BackendURL)
	}

	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		return errors.New("config: currency is required")
	}
	return c.validateSync()
}

func (c *Config) validateSync() error {
	if c.Sync.PortfolioRefresh < 0 {
		return errors.New("config: sync.portfolioRefresh must not be negative")
	}
	if c.Sync.NotificationTTL < 0 {
		return errors.New("config: sync.notificationTTL must not be negative")
	}
	return nil
}

func (c *Config) hydrateSections() error {
	if err := c.Backend.Hydrate(c.baseDir, transport.LoadConfig); err != nil {
		return fmt.Errorf("load backend config: %w", err)
	}
	return nil
}

// Intervals converts the sync settings into durations. A negative trade
// staleness selects cache.AlwaysRefetch: every holdings read by the trade
// executor goes to the backend.
func (c *Config) Intervals() cache.Intervals {
	return cache.NewIntervals(c.Sync.PortfolioRefresh, c.Sync.TradeStaleness)
}

func (c *Config) MainPath() string {
	return c.mainPath
}

func (c *Config) BaseDir() string {
	return c.baseDir
}
