package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/crosswire/crosswire-go/client"
	"github.com/crosswire/crosswire-go/config"
	"github.com/crosswire/crosswire-go/internal/events"
	"github.com/crosswire/crosswire-go/internal/log"
	"github.com/crosswire/crosswire-go/internal/tui/watch"
	"github.com/crosswire/crosswire-go/ledger"
	"github.com/crosswire/crosswire-go/push"
	"github.com/crosswire/crosswire-go/signature"
	"github.com/crosswire/crosswire-go/subscriber"
)

var (
	version   = "0.2.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "crosswire.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	// A .env next to the binary is a developer convenience; absence is fine.
	_ = godotenv.Load()

	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args, false)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runRun(args, true)
	case "publish":
		if hasHelpFlag(args) {
			printPublishHelp()
			return 0
		}
		return runPublish(args)
	case "subscription":
		return runSubscriptionNoun(args)
	case "verify":
		if hasHelpFlag(args) {
			printVerifyHelp()
			return 0
		}
		return runVerify(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("crosswire %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		if len(resolvedCommit) > 12 {
			resolvedCommit = resolvedCommit[:12]
		}
		info.Commit = resolvedCommit
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedBuildTime); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`crosswire - Crosswire event service consumer

Usage:
  crosswire <command> [flags]

Commands:
  run            Run the configured subscriptions (and push listener) in foreground
  watch          Run with a live terminal dashboard
  publish        Publish an event to a topic
  subscription   Manage subscriptions (create, delete)
  verify         Verify a push signature against a payload
  version        Show version information
  help           Show this help message

Use 'crosswire <command> --help' for command-specific flags.
`)
}

func printRunHelp() {
	fmt.Println("Usage: crosswire run [--config PATH]")
	fmt.Println("Run the configured subscriptions and push listener in the foreground.")
	fmt.Println("Received events are printed as JSON lines on stdout.")
}

func printWatchHelp() {
	fmt.Println("Usage: crosswire watch [--config PATH]")
	fmt.Println()
	fmt.Println("Run the consumer with a live terminal dashboard showing")
	fmt.Println("subscription activity, push deliveries, and the event stream.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate subscriptions")
}

func printPublishHelp() {
	fmt.Println("Usage: crosswire publish <topic> [--config PATH] [--data JSON]")
	fmt.Println("Publish one event to a topic. Reads the payload from --data,")
	fmt.Println("or from stdin when --data is omitted.")
}

func printSubscriptionHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: crosswire subscription <action> <topic> <subscription> [--config PATH]")
	fmt.Fprintln(w, "Actions: create, delete")
}

func printVerifyHelp() {
	fmt.Println("Usage: crosswire verify --secret SECRET --header HEADER [--body-file PATH] [--tolerance DUR]")
	fmt.Println("Verify a push signature header against a payload read from")
	fmt.Println("--body-file (or stdin). Exit code 0 means the signature is valid.")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	return config.Load(path)
}

// runRun is both `crosswire run` and `crosswire watch`; the latter attaches
// the TUI to the same events hub.
func runRun(args []string, withTUI bool) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("crosswire starting", "version", version, "service", cfg.Service.Name)

	var clientOpts []client.ClientOption
	if cfg.Client.Timeout > 0 {
		clientOpts = append(clientOpts, client.WithTimeout(cfg.Client.Timeout.Std()))
	}
	cw, err := client.New(cfg.Client.BaseURL, cfg.Client.APIKey, clientOpts...)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		return 1
	}

	hub := events.NewHub(256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var led *ledger.Ledger
	if cfg.Push != nil {
		led, err = ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			logger.Error("failed to open ledger", "path", cfg.Ledger.Path, "error", err)
			return 1
		}
		defer led.Close()
		logger.Info("ledger opened", "path", cfg.Ledger.Path)
	}

	engine := subscriber.New(cw,
		subscriber.WithProcessors(cfg.Consumer.Processors),
		subscriber.WithBackoff(cfg.Consumer.Backoff.Std()),
		subscriber.WithHub(hub),
	)

	for _, sub := range cfg.Consumer.Subscriptions {
		if err := engine.Subscribe(sub.Topic, sub.Subscription, printEvent); err != nil {
			logger.Error("failed to register subscription",
				"topic", sub.Topic, "subscription", sub.Subscription, "error", err)
			return 1
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	if len(cfg.Consumer.Subscriptions) > 0 {
		go func() {
			if err := engine.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("engine: %w", err)
			}
		}()
	}

	if cfg.Push != nil {
		endpoints := make([]push.Endpoint, 0, len(cfg.Push.Endpoints))
		for _, ep := range cfg.Push.Endpoints {
			endpoints = append(endpoints, push.Endpoint{
				Path:        ep.Path,
				Secret:      ep.Secret,
				Tolerance:   ep.Tolerance.Std(),
				MaxBodySize: ep.MaxBodySize,
				Handler:     printDelivery,
			})
		}
		pushServer, err := push.New(push.Config{Listen: cfg.Push.Listen}, endpoints,
			push.WithLedger(led), push.WithHub(hub))
		if err != nil {
			logger.Error("failed to configure push server", "error", err)
			return 1
		}
		go func() {
			if err := pushServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("push: %w", err)
			}
		}()
		logger.Info("push server enabled", "listen", cfg.Push.Listen, "endpoints", len(endpoints))

		go pruneLoop(ctx, led, cfg.Ledger.Retention.Std(), logger)
	}

	if withTUI {
		subs := make([]watch.Subscription, 0, len(cfg.Consumer.Subscriptions))
		for _, sub := range cfg.Consumer.Subscriptions {
			subs = append(subs, watch.Subscription{Topic: sub.Topic, Subscription: sub.Subscription})
		}
		p := tea.NewProgram(watch.New(hub, subs))
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			cancel()
			return 1
		}
		cancel()
		return 0
	}

	logger.Info("crosswire running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("crosswire stopped")
	return 0
}

// printEvent is the default pull handler: one JSON line per event.
func printEvent(ctx context.Context, ev *client.Event) error {
	line, err := json.Marshal(map[string]any{
		"event_id":     ev.ID,
		"topic":        ev.Topic,
		"subscription": ev.Subscription,
		"published_at": ev.PublishedAt,
		"attempt":      ev.Attempt,
		"data":         ev.Data,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

// printDelivery is the default push handler.
func printDelivery(ctx context.Context, d push.Delivery) error {
	line, err := json.Marshal(map[string]any{
		"delivery_id": d.ID,
		"topic":       d.Topic,
		"received_at": d.ReceivedAt,
		"data":        json.RawMessage(d.Body),
	})
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

// pruneLoop deletes processed ledger rows older than retention, hourly.
func pruneLoop(ctx context.Context, led *ledger.Ledger, retention time.Duration, logger *slog.Logger) {
	if led == nil || retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := led.PruneBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("ledger prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("ledger pruned", "rows", pruned)
			}
		}
	}
}

func runPublish(args []string) int {
	// Topic comes first; stdlib flag parsing stops at the first positional.
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(os.Stderr, "Usage: crosswire publish <topic> [--config PATH] [--data JSON]")
		return 1
	}
	topic := args[0]

	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	data := fs.String("data", "", "Event payload as JSON (reads stdin if omitted)")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	payload := []byte(*data)
	if *data == "" {
		in, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read stdin: %v\n", err)
			return 1
		}
		payload = in
	}
	if !json.Valid(payload) {
		fmt.Fprintln(os.Stderr, "Payload is not valid JSON")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	cw, err := client.New(cfg.Client.BaseURL, cfg.Client.APIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eventID, err := cw.Publish(ctx, topic, json.RawMessage(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	fmt.Println(eventID)
	return 0
}

func runSubscriptionNoun(args []string) int {
	if len(args) < 1 {
		printSubscriptionHelp(os.Stderr)
		return 1
	}
	if args[0] == "help" || hasHelpFlag(args[:1]) {
		printSubscriptionHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "create", "delete":
		return runSubscriptionAction(action, actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subscription action: %s\n", action)
		return 1
	}
}

func runSubscriptionAction(action string, args []string) int {
	if len(args) < 2 || strings.HasPrefix(args[0], "-") || strings.HasPrefix(args[1], "-") {
		printSubscriptionHelp(os.Stderr)
		return 1
	}
	topic, subscription := args[0], args[1]

	fs := flag.NewFlagSet(action, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	cw, err := client.New(cfg.Client.BaseURL, cfg.Client.APIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch action {
	case "create":
		if err := cw.CreateSubscription(ctx, topic, subscription); err != nil {
			fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
			return 1
		}
		fmt.Printf("Created subscription %s on topic %s\n", subscription, topic)
	case "delete":
		if err := cw.DeleteSubscription(ctx, topic, subscription); err != nil {
			fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
			return 1
		}
		fmt.Printf("Deleted subscription %s on topic %s\n", subscription, topic)
	}
	return 0
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("CROSSWIRE_PUSH_SECRET"), "Endpoint signing secret (or CROSSWIRE_PUSH_SECRET)")
	header := fs.String("header", "", "Signature header value (t=...,v1=...)")
	bodyFile := fs.String("body-file", "", "File holding the raw payload (reads stdin if omitted)")
	tolerance := fs.Duration("tolerance", signature.DefaultTolerance, "Maximum accepted delivery age")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *header == "" {
		fmt.Fprintln(os.Stderr, "Error: --header is required")
		return 1
	}

	var body []byte
	var err error
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 1
	}

	if err := signature.Verify(*secret, *header, string(body), signature.WithTolerance(*tolerance)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %s (%v)\n", signature.CodeOf(err), err)
		return 1
	}

	fmt.Println("Valid")
	return 0
}
