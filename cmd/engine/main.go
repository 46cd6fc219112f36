// Execution engine for short-horizon binary outcome markets.
//
// Each market gets an independent worker that, once per tick, compares the
// venue's YES/NO quotes against a fair value derived from the spot reference,
// places edge and hedge orders through a retrying executor, books venue fills
// into a crash-safe position store, and unwinds inventory as resolution
// approaches.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/engine"
	"github.com/Gowthamkjaya/crypto-sub000/internal/feed"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/notify"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/storage"
	"github.com/Gowthamkjaya/crypto-sub000/internal/venue"
)

const version = "1.0.0"

const healthInterval = 30 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	marketsFile := os.Getenv("MARKETS_FILE")
	if marketsFile == "" {
		marketsFile = "markets.json"
	}
	markets, err := market.LoadFile(marketsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market definitions")
	}

	log.Info().
		Str("version", version).
		Int("markets", len(markets)).
		Bool("paper_mode", cfg.PaperMode).
		Msg("⚡ Engine starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== STORAGE ======

	store, err := storage.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	// ====== FEEDS ======

	symbols := make([]string, 0, len(markets))
	tokens := make([]string, 0, 2*len(markets))
	seenSym := make(map[string]bool)
	for _, m := range markets {
		if !seenSym[m.ReferenceSym] {
			seenSym[m.ReferenceSym] = true
			symbols = append(symbols, m.ReferenceSym)
		}
		tokens = append(tokens, m.YesTokenID, m.NoTokenID)
	}

	reference := feed.NewReferenceFeed(cfg.ReferenceAPIURL, symbols)
	reference.Start()
	defer reference.Stop()

	var chainlink *feed.ChainlinkFeed
	if cfg.ChainlinkRPCURL != "" {
		feeds := make(map[string]string)
		for _, sym := range symbols {
			if addr, ok := cfg.ChainlinkFeeds[sym]; ok {
				feeds[sym] = addr
			}
		}
		chainlink, err = feed.NewChainlinkFeed(cfg.ChainlinkRPCURL, feeds)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect Chainlink feed")
		}
		chainlink.Start()
		defer chainlink.Stop()
	}

	books := feed.NewBookFeed(cfg.BookWSURL, tokens)
	books.Start()
	defer books.Stop()

	snapshots := feed.NewProvider(reference, chainlink, books)

	// ====== VENUE ======

	var vn ports.Venue
	if cfg.PaperMode {
		vn = venue.Paper{}
		log.Info().Msg("📝 Paper mode: fills simulated locally")
	} else {
		client, err := venue.NewClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize venue client")
		}
		for _, m := range markets {
			client.Register(m)
		}
		vn = client
	}

	// ====== NOTIFICATIONS ======

	var notifier ports.Notifier = notify.Noop{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram unavailable, notifications disabled")
		} else {
			notifier = tg
		}
	}

	// ====== ENGINE ======

	sup := engine.NewSupervisor(cfg, markets, snapshots, vn, store, notifier, clock.Real{})

	go func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sup.LogHealth()
			}
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM: workers stop submitting, drain
	// received fills, persist, then exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutdown signal received")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Engine exited with error")
		os.Exit(1)
	}
}
