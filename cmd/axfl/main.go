package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"axfl/broker"
	"axfl/clock"
	"axfl/config"
	"axfl/engine"
	"axfl/feeds"
	"axfl/journal"
	"axfl/news"
	"axfl/notify"
)

func main() {
	var (
		cfgPath  = flag.String("config", "schedule.yml", "schedule document path")
		profile  = flag.String("profile", "default", "profile name")
		mode     = flag.String("mode", "replay", "replay | live")
		mirror   = flag.Bool("mirror", false, "mirror paper trades to the broker")
		flatten  = flag.Bool("flatten-on-conflict", true, "flatten orphan broker positions at startup")
		nyList   = flag.Bool("ny", false, "run the strategies_ny list instead of strategies")
	)
	flag.Parse()

	env := config.LoadEnv()
	setupLogging(env.Debug)

	sched, prof, err := config.Load(*cfgPath, *profile)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	specs := sched.Strategies
	if *nyList {
		if len(sched.StrategiesNY) == 0 {
			log.Fatal().Msg("-ny requested but the schedule has no strategies_ny list")
		}
		specs = sched.StrategiesNY
	}
	log.Info().Str("profile", *profile).Str("mode", *mode).
		Strs("symbols", prof.Symbols).Int("strategies", len(specs)).
		Msg("axfl starting")

	jrnl, err := journal.Open(env.JournalDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("journal open failed")
	}
	defer jrnl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var adapter broker.Adapter
	if *mirror {
		if env.OandaToken == "" || env.OandaAccount == "" {
			log.Warn().Msg("mirror requested but OANDA credentials missing, running paper only")
		} else {
			oanda := broker.NewOANDA(env.OandaBaseURL, env.OandaToken, env.OandaAccount)
			pctx, cancel := context.WithTimeout(ctx, 20*time.Second)
			if err := oanda.PingAuth(pctx); err != nil {
				log.Warn().Err(err).Msg("broker auth ping failed, mirroring stays best-effort")
			}
			cancel()
			adapter = oanda
		}
	}

	var calendar *news.Calendar
	if prof.NewsGuard.Enabled {
		calendar, err = news.LoadCSV(prof.NewsGuard.CSVPath)
		if err != nil {
			log.Warn().Err(err).Msg("news calendar unavailable, guard disabled")
			calendar = nil
		}
	}

	var sinks []notify.Sink
	if env.DiscordWebhook != "" {
		sinks = append(sinks, notify.NewDiscord(env.DiscordWebhook))
	}
	if env.TelegramToken != "" && env.TelegramChatID != 0 {
		if tg, err := notify.NewTelegram(env.TelegramToken, env.TelegramChatID); err != nil {
			log.Warn().Err(err).Msg("telegram sink unavailable")
		} else {
			sinks = append(sinks, tg)
		}
	}
	notifier := notify.New(sinks...)
	defer notifier.Stop()

	finnhubKey := ""
	if len(env.FinnhubKeys) > 0 {
		finnhubKey = env.FinnhubKeys[0]
	}
	history := feeds.SourcesFor(prof.Source, env.DataDir, env.TwelveDataKey, finnhubKey)

	eng := engine.New(engine.Options{
		Profile:  prof,
		Specs:    specs,
		Clock:    clock.Real{},
		Journal:  jrnl,
		Broker:   adapter,
		Notifier: notifier,
		Calendar: calendar,
		History:  history,
		Equity:   env.EquityUSD,
		LogDir:   env.LogDir,
	})

	if err := eng.Warmup(ctx); err != nil {
		log.Error().Err(err).Msg("warm-up failed")
		os.Exit(1)
	}
	eng.Reconcile(ctx, *flatten)

	var runErr error
	switch *mode {
	case "live":
		runErr = eng.RunLive(ctx, env.FinnhubKeys)
		if runErr != nil && ctx.Err() == nil {
			log.Warn().Err(runErr).Msg("live feed unavailable, degrading to replay")
			runErr = eng.RunReplay(ctx)
		}
	default:
		runErr = eng.RunReplay(ctx)
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("dispatcher exited with error")
		os.Exit(1)
	}
	log.Info().Float64("equity", eng.Equity()).Msg("shutdown complete")
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).With().Timestamp().Logger()
}
