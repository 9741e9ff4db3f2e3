// termux-bridge runs Termux API commands against the app's socket service.
//
// Usage:
//
//	termux-bridge [flags] location [-provider gps|network|passive] [-request once|last|updates]
//	termux-bridge [flags] notification-list [-remove key1,key2]
//	termux-bridge [flags] notification-remove <id>
//	termux-bridge [flags] open-uri <uri>
//	termux-bridge [flags] history [-limit n] [-method name] [-prune 720h]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/xiaozhiapp/termuxbridge/internal/android"
	"github.com/xiaozhiapp/termuxbridge/internal/config"
	"github.com/xiaozhiapp/termuxbridge/internal/history"
	"github.com/xiaozhiapp/termuxbridge/internal/logger"
	"github.com/xiaozhiapp/termuxbridge/internal/rpcproxy"
	"github.com/xiaozhiapp/termuxbridge/internal/termuxapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// app carries what every subcommand needs.
type app struct {
	cfg      *config.BridgeConfig
	endpoint termuxapi.Endpoint
	journal  *history.Store
	proxy    *rpcproxy.WSClient
	stdout   io.Writer
	stderr   io.Writer
	pretty   bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("termux-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "data/bridge.yaml", "Path to bridge config YAML file")
	loggingConfig := fs.String("logging", "data/logging.yaml", "Path to logging config YAML file")
	host := fs.String("host", "", "Termux API host (overrides config)")
	port := fs.Int("port", -1, "Termux API port (overrides config)")
	timeout := fs.Duration("timeout", 0, "Request timeout (overrides config)")
	journal := fs.Bool("history", false, "Record outcomes in the history journal")
	discover := fs.Bool("discover", false, "Start the Termux service through the proxy and use its port")
	proxyURL := fs.String("proxy", "", "Remote-object proxy websocket URL (overrides config)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: termux-bridge [flags] location|notification-list|notification-remove|open-uri|history [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	// Initialize logger first (before any logging)
	logConfig, err := logger.LoadConfig(*loggingConfig)
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		fmt.Fprintf(stderr, "error: failed to initialize logging: %v\n", err)
		return 1
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "error: failed to load config: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.API.Host = *host
	}
	if *port >= 0 {
		cfg.API.Port = *port
	}
	if *timeout > 0 {
		cfg.API.Timeout = config.Duration(*timeout)
	}
	if *proxyURL != "" {
		cfg.Proxy.URL = *proxyURL
	}
	if *journal {
		cfg.History.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: invalid config: %v\n", err)
		return 1
	}

	a := &app{
		cfg:      cfg,
		endpoint: cfg.API.Endpoint(),
		stdout:   stdout,
		stderr:   stderr,
		pretty:   isTerminal(stdout),
	}
	defer a.close()

	if cfg.History.Enabled {
		a.journal, err = history.Open(cfg.History.Journal())
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	if command != "history" && command != "open-uri" && (*discover || a.endpoint.Port == 0) {
		if err := a.discoverPort(ctx); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	switch command {
	case "location":
		return a.location(ctx, rest)
	case "notification-list":
		return a.notificationList(ctx, rest)
	case "notification-remove":
		return a.notificationRemove(ctx, rest)
	case "open-uri":
		return a.openURI(ctx, rest)
	case "history":
		return a.history(ctx, rest)
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", command)
		fs.Usage()
		return 2
	}
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.proxy != nil {
		a.proxy.Close()
	}
}

func (a *app) dialProxy(ctx context.Context) (*rpcproxy.WSClient, error) {
	if a.proxy != nil {
		return a.proxy, nil
	}
	if a.cfg.Proxy.URL == "" {
		return nil, errors.New("no proxy url configured")
	}
	client, err := rpcproxy.Dial(ctx, a.cfg.Proxy.URL, a.cfg.Proxy.Timeout.Std())
	if err != nil {
		return nil, err
	}
	a.proxy = client
	return client, nil
}

// discoverPort asks the app to start its Termux socket service and points
// the endpoint at the port it reports.
func (a *app) discoverPort(ctx context.Context) error {
	client, err := a.dialProxy(ctx)
	if err != nil {
		return err
	}
	svc := android.NewTermuxService(client)
	port, err := svc.StartService(ctx)
	if err != nil {
		return fmt.Errorf("failed to start termux service: %w", err)
	}
	a.endpoint, err = svc.Endpoint(a.endpoint.Host, a.endpoint.Timeout)
	if err != nil {
		return err
	}
	logger.Info("Termux service started", "port", port)
	return nil
}

func (a *app) location(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("location", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	provider := fs.String("provider", termuxapi.ProviderNetwork, "Location provider: gps, network, passive")
	request := fs.String("request", termuxapi.RequestOnce, "Request kind: once, last, updates")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd, err := termuxapi.NewLocation(*provider, *request)
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 2
	}
	return a.execute(ctx, cmd)
}

func (a *app) notificationList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("notification-list", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	remove := fs.String("remove", "", "Comma-separated notification keys to remove")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var keys []string
	for _, k := range strings.Split(*remove, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return a.execute(ctx, termuxapi.NewNotificationList(keys))
}

func (a *app) notificationRemove(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "usage: termux-bridge notification-remove <id>")
		return 2
	}
	cmd, err := termuxapi.NewNotificationRemove(args[0])
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 2
	}
	return a.execute(ctx, cmd)
}

// execute runs one conversation, journals it, and prints the result. A
// result that arrived alongside an error is still printed.
func (a *app) execute(ctx context.Context, cmd termuxapi.Command) int {
	started := time.Now()
	result, err := termuxapi.Run(ctx, a.endpoint, cmd)
	elapsed := time.Since(started)

	logger.Debug("Command finished", "method", cmd.Method(), "duration", elapsed, "error", err)

	if a.journal != nil {
		entry := history.NewEntry(cmd, a.endpoint, result, err, started, elapsed)
		if _, jerr := a.journal.Record(ctx, entry); jerr != nil {
			logger.Warning("Failed to journal command", "method", cmd.Method(), "error", jerr)
		}
	}

	if result != nil {
		if werr := a.print(result); werr != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", werr)
			return 1
		}
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) openURI(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "usage: termux-bridge open-uri <uri>")
		return 2
	}
	client, err := a.dialProxy(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	if err := android.NewDevice(client).OpenURI(ctx, args[0]); err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// historyView is the printed form of a journal entry.
type historyView struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	Address    string          `json:"address"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (a *app) history(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	limit := fs.Int("limit", 20, "Maximum entries to show")
	method := fs.String("method", "", "Only show this api_method")
	prune := fs.Duration("prune", 0, "Delete entries older than this before listing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintf(a.stderr, "error: -limit must be positive, got %d\n", *limit)
		return 2
	}

	if a.journal == nil {
		fmt.Fprintln(a.stderr, "error: history journal is disabled (use -history or history.enabled)")
		return 1
	}

	if *prune > 0 {
		n, err := a.journal.Prune(ctx, time.Now().Add(-*prune))
		if err != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", err)
			return 1
		}
		logger.Info("Pruned history", "count", n)
	}

	var entries []history.Entry
	var err error
	if *method != "" {
		entries, err = a.journal.ByMethod(ctx, *method, *limit)
	} else {
		entries, err = a.journal.Recent(ctx, *limit)
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}

	views := make([]historyView, 0, len(entries))
	for _, e := range entries {
		v := historyView{
			ID:         e.ID,
			Method:     e.Method,
			Address:    termuxapi.Endpoint{Host: e.Host, Port: e.Port}.Address(),
			StartedAt:  e.StartedAt.UTC(),
			DurationMs: e.Duration.Milliseconds(),
			Error:      e.Error,
		}
		if e.Result != "" {
			v.Result = json.RawMessage(e.Result)
		}
		views = append(views, v)
	}
	if err := a.print(views); err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetEscapeHTML(false)
	if a.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && terminal.IsTerminal(int(f.Fd()))
}
