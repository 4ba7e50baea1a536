package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botstore/internal/config"
	"botstore/internal/db"
	"botstore/internal/explorer"
	internalhttp "botstore/internal/http"
	"botstore/internal/mailer"
	"botstore/internal/payments"
	"botstore/internal/pricing"
	"botstore/internal/secrets"
	"botstore/internal/services"
	"botstore/internal/store"
	"botstore/internal/wallet"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	provider, err := secrets.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("secret provider init failed")
	}

	svc, err := buildPurchaseService(cfg, store.New(pool), provider)
	if err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}

	handler := internalhttp.NewHandler(svc, cfg.PriceUpdateInterval())
	limiter := internalhttp.NewRateLimiter(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	srv := internalhttp.NewServer(handler, limiter)
	httpServer := internalhttp.NewHTTPServer(cfg.Server.Addr, srv)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("network", cfg.Dash.Network).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func buildPurchaseService(cfg *config.Config, st *store.Store, provider *secrets.Provider) (*services.PurchaseService, error) {
	plans, err := cfg.PlanPrices()
	if err != nil {
		return nil, err
	}
	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}

	deriver := wallet.NewDeriver(provider, cfg.Testnet())
	allocator := &wallet.Allocator{Log: st, Deriver: deriver}

	oracle := pricing.NewOracle(
		pricing.NewCoinGecko(cfg.Oracle.CoinGeckoURL),
		pricing.NewCoinbase(cfg.Oracle.CoinbaseURL),
		pricing.NewBinance(cfg.Oracle.BinanceURL),
	)

	var reader *explorer.Client
	if cfg.Dash.ExplorerURL != "" {
		reader = explorer.NewClientWithURL(cfg.Dash.ExplorerURL)
	} else {
		reader = explorer.NewClient(cfg.Testnet())
	}
	verifier := payments.NewVerifier(reader, cfg.Payment.MinConfirmations, tolerance)

	return &services.PurchaseService{
		Repo:      st,
		Allocator: allocator,
		Oracle:    oracle,
		Verifier:  verifier,
		Mailer:    buildMailer(cfg, provider),
		Plans:     plans,
		Expiry:    cfg.Expiry(),
	}, nil
}

// buildMailer returns nil when no mail credentials are configured; purchases
// then proceed without email.
func buildMailer(cfg *config.Config, provider *secrets.Provider) services.Mailer {
	apiKey, err := provider.Get("RESEND_KEY")
	if err != nil {
		log.Warn().Err(err).Msg("mailer disabled")
		return nil
	}
	return mailer.New(mailer.Config{
		APIKey:     apiKey,
		From:       cfg.Mail.From,
		AdminEmail: cfg.Mail.AdminEmail,
	})
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
