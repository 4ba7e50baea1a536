package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"botstore/internal/config"
	"botstore/internal/db"
	"botstore/internal/explorer"
	"botstore/internal/mailer"
	"botstore/internal/payments"
	"botstore/internal/pricing"
	"botstore/internal/secrets"
	"botstore/internal/services"
	"botstore/internal/store"
	"botstore/internal/wallet"
	"botstore/internal/worker"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()
	st := store.New(pool)

	provider, err := secrets.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("secret provider init failed")
	}

	plans, err := cfg.PlanPrices()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid plan catalog")
	}
	tolerance, err := cfg.Tolerance()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tolerance")
	}

	var reader *explorer.Client
	if cfg.Dash.ExplorerURL != "" {
		reader = explorer.NewClientWithURL(cfg.Dash.ExplorerURL)
	} else {
		reader = explorer.NewClient(cfg.Testnet())
	}

	var mail services.Mailer
	if apiKey, err := provider.Get("RESEND_KEY"); err != nil {
		log.Warn().Err(err).Msg("mailer disabled, deliveries will not run")
	} else {
		mail = mailer.New(mailer.Config{
			APIKey:     apiKey,
			From:       cfg.Mail.From,
			AdminEmail: cfg.Mail.AdminEmail,
		})
	}

	svc := &services.PurchaseService{
		Repo:      st,
		Allocator: &wallet.Allocator{Log: st, Deriver: wallet.NewDeriver(provider, cfg.Testnet())},
		Oracle: pricing.NewOracle(
			pricing.NewCoinGecko(cfg.Oracle.CoinGeckoURL),
			pricing.NewCoinbase(cfg.Oracle.CoinbaseURL),
			pricing.NewBinance(cfg.Oracle.BinanceURL),
		),
		Verifier: payments.NewVerifier(reader, cfg.Payment.MinConfirmations, tolerance),
		Mailer:   mail,
		Plans:    plans,
		Expiry:   cfg.Expiry(),
	}

	w := &worker.Worker{
		Repo:             st,
		Purchases:        svc,
		Mailer:           mail,
		Interval:         cfg.WorkerInterval(),
		DeliverySchedule: cfg.Worker.DeliverySchedule,
		DeliveryDelay:    cfg.DeliveryDelay(),
	}

	log.Info().
		Str("network", cfg.Dash.Network).
		Dur("interval", cfg.WorkerInterval()).
		Str("delivery_schedule", cfg.Worker.DeliverySchedule).
		Msg("worker started")
	w.Run(ctx)
}
