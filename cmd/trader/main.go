package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/statarb/api"
	"github.com/gregtusar/statarb/internal/config"
	"github.com/gregtusar/statarb/internal/logging"
	"github.com/gregtusar/statarb/pkg/feed"
	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
	"github.com/gregtusar/statarb/pkg/sink"
	"github.com/gregtusar/statarb/pkg/strategy"
	"github.com/gregtusar/statarb/pkg/trader"
)

var (
	cfgFile string
	simFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "statarb-trader",
		Short: "Liquidity index statistical arbitrage",
		Long:  `Generates long/short spread signals across a basket of tokens from their annualized liquidity index rates`,
		Run:   runTrader,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run against the live feed",
		Run:   runTrader,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a CSV of token,timestamp,index rows and print the signals",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&simFile, "file", "", "CSV file to replay")
	_ = simulateCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd, simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err = logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newStrategy(cfg *config.Config, store rates.Source) (*strategy.StatArb, error) {
	params := cfg.Strategy.Params()
	estimator, err := strategy.NewEstimator(cfg.Strategy.Estimator, len(cfg.Strategy.Tokens), params)
	if err != nil {
		return nil, err
	}
	return strategy.NewStatArb(cfg.Strategy.Tokens, estimator, store, rates.NewAPYAnnualizer(params.Lookback), params, logger)
}

func runTrader(cmd *cobra.Command, args []string) {
	cfg, err := setup()
	if err != nil {
		if logger == nil {
			logger = logrus.New()
		}
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := rates.NewWindowStore(cfg.Feed.HistorySize)
	strat, err := newStrategy(cfg, store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create strategy")
	}

	sinks := sink.MultiSink{sink.NewMemorySink()}
	if cfg.Sink.Redis.Enabled {
		rs, err := sink.NewRedisSink(ctx, sink.RedisConfig{
			Addr:         cfg.Sink.Redis.Addr,
			Password:     cfg.Sink.Redis.Password,
			DB:           cfg.Sink.Redis.DB,
			Stream:       cfg.Sink.Redis.Stream,
			StreamMaxLen: cfg.Sink.Redis.StreamMaxLen,
			TLSEnabled:   cfg.Sink.Redis.TLSEnabled,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer rs.Close()
		sinks = append(sinks, rs)
	}

	statTrader := trader.NewTrader(strat, sinks, logger)
	if err := statTrader.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start trader")
	}

	creds := feed.Credentials{
		APIKey:        cfg.Feed.APIKey,
		APISecret:     cfg.Feed.APISecret,
		Passphrase:    cfg.Feed.Passphrase,
		APIKeyName:    cfg.Feed.APIKeyName,
		PrivateKeyPEM: cfg.Feed.PrivateKeyPEM,
	}
	feedErr := make(chan error, 1)
	switch cfg.Feed.Mode {
	case "websocket":
		ws := feed.NewWebSocketClient(cfg.Feed.WebSocketURL, cfg.Strategy.Tokens, creds, store, statTrader, logger)
		go func() {
			feedErr <- ws.Run(ctx, time.Duration(cfg.Feed.ReconnectDelay)*time.Second, cfg.Feed.MaxReconnects)
		}()
	default:
		auth, err := feed.NewAuthenticator(feed.AuthType(cfg.Feed.AuthType), creds)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create feed authenticator")
		}
		client := feed.NewClient(cfg.Feed.BaseURL, auth, cfg.Feed.RequestsPerSecond, cfg.Feed.Burst)
		poller := feed.NewPoller(client, cfg.Strategy.Tokens, store, statTrader, time.Duration(cfg.Feed.PollInterval)*time.Second, logger)
		go func() {
			feedErr <- poller.Run(ctx)
		}()
	}

	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(statTrader, logger, strconv.Itoa(cfg.Server.Port))
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.WithError(err).Fatal("Failed to start API server")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.WithFields(logrus.Fields{
		"strategy": strat.Name(),
		"tokens":   cfg.Strategy.Tokens,
		"feed":     cfg.Feed.Mode,
	}).Info("Statarb trader is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-feedErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Feed stopped")
		}
	}

	// Graceful shutdown
	if apiServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown")
		}
		done()
	}
	statTrader.Stop()
	cancel()

	logger.Info("Statarb trader stopped")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	f, err := os.Open(simFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ticks, err := readTicks(f)
	if err != nil {
		return err
	}

	store := rates.NewWindowStore(cfg.Feed.HistorySize)
	strat, err := newStrategy(cfg, store)
	if err != nil {
		return err
	}
	mem := sink.NewMemorySink()
	statTrader := trader.NewTrader(strat, mem, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, tick := range ticks {
		for _, obs := range tick.observations {
			if err := store.Add(obs); err != nil {
				logger.WithError(err).WithField("token", obs.Token).Warn("Dropped observation")
			}
		}
		// Per-tick failures are logged and counted by the trader.
		_ = statTrader.HandleEvent(ctx, models.NewMarketEvent(tick.at))
		for _, sig := range mem.Drain() {
			if err := enc.Encode(sig); err != nil {
				return err
			}
		}
	}

	snap := statTrader.Snapshot()
	logger.WithFields(logrus.Fields{
		"ticks":    len(ticks),
		"days":     snap.Days,
		"position": snap.Position.State,
	}).Info("Simulation finished")
	return nil
}

type simTick struct {
	at           time.Time
	observations []models.RateObservation
}

// readTicks parses token,timestamp,index rows and groups them by timestamp.
// Timestamps are unix seconds or RFC 3339. A header row is skipped.
func readTicks(r io.Reader) ([]simTick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	byTime := make(map[int64]*simTick)
	line := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "token") {
			continue
		}

		ts, err := parseTimestamp(rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		index, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid index: %w", line, err)
		}

		key := ts.UnixNano()
		tick, ok := byTime[key]
		if !ok {
			tick = &simTick{at: ts}
			byTime[key] = tick
		}
		tick.observations = append(tick.observations, models.RateObservation{Token: rec[0], Timestamp: ts, Index: index})
	}

	ticks := make([]simTick, 0, len(byTime))
	for _, t := range byTime {
		ticks = append(ticks, *t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].at.Before(ticks[j].at) })
	return ticks, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}
