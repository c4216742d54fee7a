package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	httpapi "github.com/dvrvsimi/openbook-dex/api/http"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/infra/journal"
	"github.com/dvrvsimi/openbook-dex/infra/kafka"
	"github.com/dvrvsimi/openbook-dex/infra/outbox"
	"github.com/dvrvsimi/openbook-dex/infra/regionstore"
	"github.com/dvrvsimi/openbook-dex/infra/sequence"
	"github.com/dvrvsimi/openbook-dex/jobs/broadcaster"
	"github.com/dvrvsimi/openbook-dex/pkg/config"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
	"github.com/dvrvsimi/openbook-dex/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Level(cfg.LogLevel))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	params, err := marketParams(cfg.Market)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	// ---------------- Durable stores ----------------

	j, err := journal.Open(journal.Config{Dir: cfg.JournalDir})
	if err != nil {
		log.Error(err, logger.NewField("context", "journal open"))
		os.Exit(1)
	}
	defer j.Close()

	store, err := regionstore.Open(filepath.Join(cfg.DataDir, "regions"))
	if err != nil {
		log.Error(err, logger.NewField("context", "region store open"))
		os.Exit(1)
	}
	defer store.Close()

	ob, err := outbox.Open(filepath.Join(cfg.DataDir, "outbox"))
	if err != nil {
		log.Error(err, logger.NewField("context", "outbox open"))
		os.Exit(1)
	}
	defer ob.Close()

	// ---------------- Restore ----------------

	deps := service.Deps{
		Journal: j,
		Store:   store,
		Outbox:  ob,
		Seq:     sequence.New(0),
		Log:     log,
	}
	var feed *kafka.Producer
	if cfg.Kafka.BroadcastEnabled {
		feed = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.FillsTopic)
		defer feed.Close()
		deps.Feed = feed
	}
	svc, err := service.Restore(params, cfg.JournalDir, deps)
	if err != nil {
		log.Error(err, logger.NewField("context", "restore"))
		os.Exit(1)
	}
	log.Info("market restored", logger.NewField("market", cfg.Market.Address))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---------------- Background jobs ----------------

	crankEvery := time.Duration(cfg.CrankInterval) * time.Millisecond
	go func() {
		ticker := time.NewTicker(crankEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.Crank(64); err != nil {
					log.Error(err, logger.NewField("context", "crank"))
				}
				if _, err := svc.ConsumeEvents(256); err != nil {
					log.Error(err, logger.NewField("context", "consume"))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SnapshotInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := svc.Snapshot(); err != nil {
					log.Error(err, logger.NewField("context", "snapshot"))
				}
			}
		}
	}()

	if cfg.Kafka.BroadcastEnabled {
		bc, err := broadcaster.New(ob, cfg.Kafka.Brokers, cfg.Kafka.SettlementTopic, 250*time.Millisecond, log)
		if err != nil {
			log.Error(err, logger.NewField("context", "broadcaster"))
			os.Exit(1)
		}
		defer bc.Close()
		go bc.Run(ctx)

		intake := kafka.NewIntake(kafka.IntakeConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.IntakeTopic,
			GroupID: cfg.Kafka.IntakeGroupID,
			Handler: func(ctx context.Context, correlationID string, encoded []byte) error {
				if err := svc.SubmitRequest(encoded); err != nil {
					log.Warn("submission rejected",
						logger.NewField("correlation_id", correlationID),
						logger.NewField("error", err.Error()))
				}
				return nil
			},
		})
		defer intake.Close()
		go func() {
			if err := intake.Run(ctx); err != nil {
				log.Error(err, logger.NewField("context", "intake"))
			}
		}()
	}

	// ---------------- HTTP ----------------

	api := httpapi.New(svc, log)
	go func() {
		<-ctx.Done()
		_ = api.Shutdown()
	}()

	log.Info("serving", logger.NewField("addr", cfg.HTTPAddr))
	if err := api.Listen(cfg.HTTPAddr); err != nil {
		log.Error(err, logger.NewField("context", "http"))
	}

	// Final snapshot so the next boot replays as little as possible.
	if err := svc.Snapshot(); err != nil {
		log.Error(err, logger.NewField("context", "final snapshot"))
	}
}

func marketParams(mc config.MarketConfig) (market.Params, error) {
	addr, err := market.ParseAddress(mc.Address)
	if err != nil {
		return market.Params{}, err
	}
	baseVault, err := market.ParseAddress(mc.BaseVault)
	if err != nil {
		return market.Params{}, err
	}
	quoteVault, err := market.ParseAddress(mc.QuoteVault)
	if err != nil {
		return market.Params{}, err
	}
	var fees market.FeeTable
	for i := range fees {
		// Each tier halves the previous taker fee.
		fees[i] = mc.TakerFeeBps >> i
	}
	return market.Params{
		Market:        addr,
		BaseVault:     baseVault,
		QuoteVault:    quoteVault,
		BaseDecimals:  mc.BaseDecimals,
		QuoteDecimals: mc.QuoteDecimals,
		Fees:          fees,
		Caps: market.Capacities{
			BookNodes: mc.BookNodes,
			Requests:  mc.Requests,
			Events:    mc.Events,
			Slots:     mc.Slots,
		},
	}, nil
}
