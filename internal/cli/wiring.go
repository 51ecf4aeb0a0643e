package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veerananda/billgenie-sync/internal/application"
	"github.com/veerananda/billgenie-sync/internal/config"
	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/localcache"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
	"github.com/veerananda/billgenie-sync/internal/repository"
)

var errNoDatabase = errors.New("DB_STRING is required")

// loadConfig reads configuration and starts logging at the configured level
// unless --log-level already did.
func loadConfig(opts *RootOptions, offline bool) (*config.Config, error) {
	load := config.LoadConfig
	if offline {
		load = config.LoadOffline
	}
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if opts.LogLevel == "" {
		logger.Init(cfg.LOG_LEVEL)
	}
	return cfg, nil
}

// core is the part of the service every command shares: the order service
// connection and the local cache.
type core struct {
	pool  *pgxpool.Pool
	repo  *repository.OrderRepository
	cache *localcache.Cache
}

func openCore(ctx context.Context, cfg *config.Config, needRemote bool) (*core, error) {
	c := &core{}

	if cfg.CACHE_PATH != "" {
		cache, err := localcache.Open(cfg.CACHE_PATH)
		if err != nil {
			return nil, err
		}
		c.cache = cache
		logger.Info("local cache opened", "path", cfg.CACHE_PATH)
	}

	if !needRemote {
		return c, nil
	}
	if cfg.DB_STRING == "" {
		c.Close()
		return nil, errNoDatabase
	}
	pool, err := pgxpool.New(ctx, cfg.DB_STRING)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pgxpool new: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		c.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	logger.Info("db connected")
	c.pool = pool
	c.repo = repository.NewOrderRepository(pool)
	return c, nil
}

func (c *core) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("cache close failed", "err", err)
		}
	}
}

// service builds the sync core. Without a database every remote call fails
// and the service works from the cache.
func (c *core) service(cfg *config.Config, pub events.Publisher) *application.OrdersService {
	var remote application.RemoteService = offlineRemote{}
	if c.repo != nil {
		remote = c.repo
	}
	var cache application.LocalCache
	if c.cache != nil {
		cache = c.cache
	}
	return application.NewOrdersService(orderstore.New(time.Now), remote, cache, pub, serviceOptions(cfg))
}

func serviceOptions(cfg *config.Config) application.Options {
	return application.Options{
		SelfService:      cfg.SelfService(),
		ExpiryGrace:      cfg.EXPIRY_GRACE,
		MinFetchInterval: cfg.RECONCILE_MIN_INTERVAL,
		Source:           "billgenie@" + cfg.InstanceID(),
	}
}

var errOffline = errors.New("order service not configured")

// offlineRemote stands in for the order service in cache-only commands.
type offlineRemote struct{}

func (offlineRemote) ListOrders(context.Context) ([]domain.RemoteOrder, error) {
	return nil, errOffline
}
func (offlineRemote) UpdateOrderItemStatus(context.Context, string, string, domain.ItemStatus) error {
	return errOffline
}
func (offlineRemote) UpdateOrderItemsByGroupKey(context.Context, string, string, domain.ItemStatus) error {
	return errOffline
}
func (offlineRemote) CancelOrder(context.Context, string) error            { return errOffline }
func (offlineRemote) CreateOrder(context.Context, domain.RemoteOrder) error { return errOffline }
func (offlineRemote) CompleteOrder(context.Context, string, float64) error  { return errOffline }
