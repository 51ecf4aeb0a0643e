package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veerananda/billgenie-sync/internal/application"
	"github.com/veerananda/billgenie-sync/internal/config"
	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/kafka"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/migrate"
	"github.com/veerananda/billgenie-sync/internal/presentation"
	"github.com/veerananda/billgenie-sync/internal/rabbitmq"
)

type ServeOptions struct {
	*RootOptions
	Migrate bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service with its HTTP API",
		Long: `Run the sync service: restore the local cache, consume pushed order events,
poll the order service, sweep expired orders and serve the HTTP API and
kitchen board.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply database migrations before starting")
	return cmd
}

// consumer is a push transport feeding the event bus.
type consumer interface {
	Run(ctx context.Context) error
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Migrate {
		if err := migrate.Up(cfg.DB_STRING); err != nil {
			return err
		}
	}

	c, err := openCore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	bus := events.NewBus()
	pub, cons, closeTransport, err := openTransport(cfg, bus)
	if err != nil {
		return err
	}
	defer closeTransport()

	svc := c.service(cfg, pub)
	svc.RestoreCache(ctx)

	proc := application.NewEventProcessor(svc)
	proc.Subscribe(bus)
	defer proc.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP_PORT,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cons != nil {
		g.Go(func() error { return cons.Run(gctx) })
	}
	g.Go(func() error { return svc.RunSweeper(gctx, cfg.SWEEP_INTERVAL) })
	g.Go(func() error { return svc.RunPolling(gctx, cfg.RECONCILE_INTERVAL) })

	err = g.Wait()
	logger.Info("service stopped", "err", err)
	return err
}

func openTransport(cfg *config.Config, bus *events.Bus) (events.Publisher, consumer, func(), error) {
	switch cfg.PUSH_TRANSPORT {
	case config.TransportKafka:
		prod := kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_TOPIC)
		cons := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_TOPIC,
			GroupID: cfg.KafkaGroupID(),
		}, bus)
		return prod, cons, func() { _ = prod.Close() }, nil

	case config.TransportRabbitMQ:
		client, err := rabbitmq.Dial(cfg.RABBITMQ_URL, cfg.RABBITMQ_EXCHANGE)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, rabbitmq.NewConsumer(client, cfg.RabbitQueue(), bus), client.Close, nil
	}
	logger.Warn("no push transport configured; relying on polling")
	return nil, nil, func() {}, nil
}

func newRouter(svc *application.OrdersService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// kitchen board streams reconnect after the timeout
	r.Use(middleware.Timeout(60 * time.Second))

	presentation.NewOrdersHandler(svc).Register(r)
	presentation.MountStatic(r)
	return r
}
