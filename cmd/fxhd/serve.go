package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Rizwan-Beg/fxharry/api/grpcserver"
	"github.com/Rizwan-Beg/fxharry/api/rest"
	"github.com/Rizwan-Beg/fxharry/api/ws"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/infra/config"
	"github.com/Rizwan-Beg/fxharry/infra/journal"
	"github.com/Rizwan-Beg/fxharry/infra/kafka"
	"github.com/Rizwan-Beg/fxharry/infra/metrics"
	"github.com/Rizwan-Beg/fxharry/infra/outbox"
	"github.com/Rizwan-Beg/fxharry/infra/sqlstore"
	"github.com/Rizwan-Beg/fxharry/infra/venue"
	"github.com/Rizwan-Beg/fxharry/jobs/broadcaster"
	"github.com/Rizwan-Beg/fxharry/service/executor"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/Rizwan-Beg/fxharry/snapshot"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// closers run in reverse on shutdown.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) run(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var cl closers
	defer cl.run(log)

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		ms := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		cl.add(ms.Close)
	}

	// ---------------- Sinks ----------------

	store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log.Named("sqlstore"))
	if err != nil {
		return err
	}
	cl.add(store.Close)

	j, err := journal.Open(journal.Config{Dir: cfg.Journal.Dir, SegmentSize: cfg.Journal.SegmentSize}, log.Named("journal"))
	if err != nil {
		return err
	}
	cl.add(j.Close)
	fillJournal := journal.NewSink(j)
	cl.add(fillJournal.Flush)

	sinks := events.Multi{store, fillJournal}
	switch {
	case cfg.Outbox.Dir != "":
		ob, err := outbox.Open(cfg.Outbox.Dir,
			outbox.WithLogger(log.Named("outbox")),
			outbox.WithClock(func() int64 { return time.Now().UnixNano() }))
		if err != nil {
			return err
		}
		cl.add(ob.Close)
		sinks = append(sinks, ob)

		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := broadcaster.NewSyncProducer(cfg.Kafka.Brokers)
			if err != nil {
				return err
			}
			bc := broadcaster.New(ob, producer, cfg.Kafka.Topic, log.Named("broadcaster"))
			// runs before ob.Close and waits out the replay loop
			cl.add(bc.Close)
			bc.Start(ctx, cfg.Kafka.Interval)
		}
	case len(cfg.Kafka.Brokers) > 0:
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
		cl.add(p.Close)
		sinks = append(sinks, p)
	}

	// ---------------- Executor ----------------

	route, err := executor.ParseRoute(cfg.Executor.Route)
	if err != nil {
		return err
	}
	feed := marketdata.NewFeed()
	cl.add(func() error { feed.Close(); return nil })

	opts := []executor.Option{
		executor.WithSink(sinks),
		executor.WithFeed(feed),
		executor.WithMetrics(m),
		executor.WithLogger(log.Named("executor")),
	}

	// executions can arrive before New returns
	var execRef atomic.Pointer[executor.Executor]
	if route == executor.RouteLive {
		onExec := func(x venue.Execution) {
			if e := execRef.Load(); e != nil {
				if err := e.ReportExecution(x); err != nil {
					log.Warn("venue execution dropped", zap.Uint64("order_id", x.OrderID), zap.Error(err))
				}
			}
		}
		conn, err := venue.Dial(ctx, cfg.Venue.URL, onExec, log.Named("venue"))
		if err != nil {
			return err
		}
		cl.add(conn.Close)
		breaker := venue.NewBreaker(venue.BreakerConfig{
			Name:             cfg.Venue.URL,
			FailureThreshold: cfg.Venue.FailureThreshold,
			SuccessThreshold: 1,
			Cooldown:         cfg.Venue.Cooldown,
		}, log.Named("breaker"))
		limiter := venue.NewLimiter(cfg.Venue.RatePerSecond, cfg.Venue.Burst)
		opts = append(opts, executor.WithVenue(venue.NewGuarded(conn, breaker, limiter, log.Named("venue"))))
	}

	exec, err := executor.New(executor.Config{
		Route:         route,
		Shards:        cfg.Executor.Shards,
		QueueSize:     cfg.Executor.QueueSize,
		UpdateBuffer:  cfg.Executor.UpdateBuffer,
		SnapshotDepth: cfg.Executor.SnapshotDepth,
		VenueTimeout:  cfg.Executor.VenueTimeout,
		Risk: executor.RiskLimits{
			MaxOrderQty: cfg.Executor.Risk.MaxOrderQty,
			MaxNotional: cfg.Executor.Risk.MaxNotional,
		},
	}, opts...)
	if err != nil {
		return err
	}
	execRef.Store(exec)
	cl.add(exec.Close)

	snaps := &snapshot.Writer{Dir: cfg.Snapshot.Dir}
	if route == executor.RouteSimulated {
		n, err := exec.RestoreAll(snaps)
		if err != nil {
			return errors.Wrap(err, "restore snapshots")
		}
		log.Info("snapshots restored", zap.Int("books", n))
	}
	exec.Start()
	if route == executor.RouteSimulated {
		exec.StartSnapshotJob(ctx, snaps, cfg.Snapshot.Interval)
		cl.add(func() error { return exec.SnapshotAll(context.Background(), snaps) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Server.GRPCAddr)
	}
	g := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log.Named("grpc"))))
	grpcserver.NewServer(exec, feed, log.Named("grpc")).Register(g)
	go func() {
		if err := g.Serve(lis); err != nil {
			log.Error("grpc server", zap.Error(err))
		}
	}()
	cl.add(func() error { g.GracefulStop(); return nil })

	// ---------------- HTTP ----------------

	router := rest.NewRouter(log.Named("http"))
	rest.RegisterRoutes(router, rest.NewOrderHandler(exec, store, log.Named("http")), ws.NewHandler(feed, log.Named("ws")))
	hs := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
		}
	}()
	cl.add(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})

	log.Info("fxhd serving",
		zap.String("route", route.String()),
		zap.String("grpc", cfg.Server.GRPCAddr),
		zap.String("http", cfg.Server.HTTPAddr))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
