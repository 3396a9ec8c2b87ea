package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/infra/config"
	"github.com/Rizwan-Beg/fxharry/infra/journal"
	"github.com/Rizwan-Beg/fxharry/infra/kafka"
	"github.com/Rizwan-Beg/fxharry/infra/sqlstore"
	"github.com/Rizwan-Beg/fxharry/service/simulator"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type simulateOpts struct {
	from, to int64
	page     int
	out      string
	archive  bool
	publish  bool
}

func simulateFlags(fs *flag.FlagSet) *simulateOpts {
	o := &simulateOpts{}
	fs.Int64Var(&o.from, "from", 0, "first tick timestamp (ns, inclusive)")
	fs.Int64Var(&o.to, "to", 0, "end of the tick range (ns, exclusive); 0 means no bound")
	fs.IntVar(&o.page, "page", 1000, "ticks fetched per query")
	fs.StringVar(&o.out, "out", "", "write the fill log to this file instead of the journal")
	fs.BoolVar(&o.archive, "archive", true, "also store fills in the SQL archive under the run id")
	fs.BoolVar(&o.publish, "publish", false, "stream fills to kafka.topic")
	return o
}

// slippageFrom prefers the linear model when both are configured.
func slippageFrom(c config.Simulator) (market.SlippageModel, error) {
	if c.SlippageBps != "" {
		bps, err := decimal.NewFromString(c.SlippageBps)
		if err != nil {
			return nil, errors.Wrapf(err, "slippage_bps_per_lot %q", c.SlippageBps)
		}
		return market.LinearImpact{BpsPerLot: bps}, nil
	}
	if c.SlippageMaxTicks > 0 {
		return market.RandomSlippage{MaxTicks: c.SlippageMaxTicks, Seed: c.Seed}, nil
	}
	return market.NoSlippage{}, nil
}

// teeLog appends every fill to each log; the first error wins.
type teeLog []simulator.FillLog

func (t teeLog) Append(f matching.Fill) error {
	for _, l := range t {
		if err := l.Append(f); err != nil {
			return err
		}
	}
	return nil
}

func (t teeLog) Flush() error {
	var first error
	for _, l := range t {
		if err := l.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func simulate(ctx context.Context, cfg *config.Config, o *simulateOpts, log *zap.Logger) error {
	slip, err := slippageFrom(cfg.Simulator)
	if err != nil {
		return err
	}

	store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log.Named("sqlstore"))
	if err != nil {
		return err
	}
	defer store.Close()

	var logs teeLog
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return errors.Wrapf(err, "create %s", o.out)
		}
		defer f.Close()
		logs = append(logs, journal.NewStreamFillLog(f))
	} else {
		j, err := journal.Open(journal.Config{Dir: cfg.Journal.Dir, SegmentSize: cfg.Journal.SegmentSize}, log.Named("journal"))
		if err != nil {
			return err
		}
		defer j.Close()
		logs = append(logs, journal.NewFillLog(j))
	}

	runID := uuid.NewString()
	if o.archive {
		logs = append(logs, store.RunLog(runID))
	}

	opts := []simulator.Option{
		simulator.WithFillLog(logs),
		simulator.WithLogger(log.Named("simulator")),
	}
	if o.publish && len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
		defer p.Close()
		opts = append(opts, simulator.WithSink(p))
	}

	sim := simulator.New(simulator.Config{
		Latency:    market.JitterLatency{Base: cfg.Simulator.LatencyBase, Jitter: cfg.Simulator.LatencyJitter, Seed: cfg.Simulator.Seed},
		Slippage:   slip,
		HalfSpread: cfg.Simulator.HalfSpread,
		QuoteQty:   cfg.Simulator.QuoteQty,
		StartTime:  o.from,
		RunID:      runID,
	}, opts...)

	start := time.Now()
	rep, err := sim.Run(ctx, store.Ticks(o.from, o.to, o.page))
	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.Stringer("state", rep.State),
		zap.Int("events", rep.Events),
		zap.Int("fills", rep.Fills),
		zap.Int("rejected", rep.Rejected),
		zap.Int("cancelled", rep.Cancelled),
		zap.Int("unreleased", rep.Unreleased),
		zap.Duration("elapsed", time.Since(start)),
	}
	for sym, st := range rep.Symbols {
		fields = append(fields, zap.Dict(sym,
			zap.Int("fills", st.Fills),
			zap.Int64("volume", st.Volume),
			zap.String("vwap", st.VWAP().StringFixed(2))))
	}
	log.Info("simulation finished", fields...)
	return err
}
