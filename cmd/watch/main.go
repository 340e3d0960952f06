// Command watch follows a single instrument. Typing another symbol on stdin,
// or POSTing it to /api/select, switches the stream without reconnecting.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/pipeline"
	"digitflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	symbol := flag.String("symbol", "R_100", "Instrument to watch")
	reconnect := flag.String("reconnect", "", "Override stream.reconnect.strategy (fixed or exponential)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	entry, ok := catalog.Lookup(strings.ToUpper(*symbol))
	if !ok {
		log.WithField("symbol", *symbol).Error("Unknown instrument")
		os.Exit(1)
	}
	if err := overrideReconnect(cfg, *reconnect); err != nil {
		log.WithError(err).Error("Invalid -reconnect flag")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.New(ctx, cfg, []catalog.Entry{entry}, pipeline.Interactive())
	if err != nil {
		log.WithError(err).Error("Failed to build pipeline")
		os.Exit(1)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()
	go readCommands(ctx, os.Stdin, os.Stdout, p)

	fmt.Fprintf(os.Stdout, "watching %s (%s); type a symbol to switch, \"status\" to print the current state\n", entry.Symbol, entry.Name)
	if err := p.Run(ctx); err != nil {
		log.WithError(err).Error("watch stopped with error")
		os.Exit(1)
	}
}

// overrideReconnect replaces the configured reconnect strategy when strategy
// is non-empty. An empty strategy keeps the file's value.
func overrideReconnect(cfg *config.Config, strategy string) error {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	rc := &cfg.Stream.Reconnect
	switch strategy {
	case "":
		return nil
	case config.ReconnectFixed:
	case config.ReconnectExponential:
		if rc.Multiplier < 1 {
			return fmt.Errorf("exponential reconnect needs stream.reconnect.multiplier >= 1")
		}
		if rc.MaxDelay < rc.Delay {
			return fmt.Errorf("exponential reconnect needs stream.reconnect.max_delay >= delay")
		}
	default:
		return fmt.Errorf("unknown reconnect strategy '%s'", strategy)
	}
	rc.Strategy = strategy
	return nil
}

func readCommands(ctx context.Context, in io.Reader, out io.Writer, p *pipeline.Pipeline) {
	log := logger.GetLogger().WithComponent("watch")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		switch cmd {
		case "":
			continue
		case "STATUS":
			for _, st := range p.Analyzer().States() {
				pred, _ := p.Analyzer().Predict(st.Symbol)
				fmt.Fprintf(out, "%-10s %-15s entropy=%.3f quality=%s dir=%s last=%d ticks=%d call=%s conf=%d\n",
					st.Symbol, st.Status, st.Entropy, st.QualityScore, st.Direction, st.LastDigit, st.TotalTicks, pred.Contract, pred.Confidence)
			}
			for _, sig := range p.Signals().Signals() {
				fmt.Fprintf(out, "  signal %s %s %s conf=%d\n", sig.Time.Format("15:04:05"), sig.Symbol, sig.Contract, sig.Confidence)
			}
		default:
			if err := p.Switch(ctx, cmd); err != nil {
				log.WithError(err).WithField("symbol", cmd).Warn("switch failed")
				continue
			}
			fmt.Fprintf(out, "switched to %s\n", cmd)
		}
	}
}
