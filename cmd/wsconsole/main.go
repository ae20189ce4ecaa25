// wsconsole opens a managed WebSocket channel and attaches an interactive prompt.
// Usage: go run ./cmd/wsconsole -url ws://localhost:9000/ws
//
// Every line typed is sent as one message. Inbound messages and lifecycle
// events are printed above the prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/rickgao/wskeeper/internal/config"
	"github.com/rickgao/wskeeper/internal/connection"
	"github.com/rickgao/wskeeper/internal/journal"
)

func main() {
	configPath := flag.String("config", "", "optional config file; flags override its connection section")
	url := flag.String("url", "", "ws:// or wss:// endpoint")
	heartbeat := flag.Duration("heartbeat", 0, "heartbeat interval (default 15s)")
	deadline := flag.Duration("deadline", 0, "pong deadline (default 10s)")
	backoff := flag.Duration("backoff", 0, "reconnect backoff (default 2s)")
	payload := flag.String("payload", "", "heartbeat payload (default \"ping\")")
	maxAttempts := flag.Int("max-attempts", 0, "reconnect attempt limit (0 = unlimited)")
	verbose := flag.Bool("verbose", false, "show manager debug logs")
	flag.Parse()

	var cc config.ConnectionConfig
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
		cc = cfg.Connection
	}
	if *url != "" {
		cc.Endpoint = *url
	}
	if *heartbeat > 0 {
		cc.HeartbeatInterval = *heartbeat
	}
	if *deadline > 0 {
		cc.PongDeadline = *deadline
	}
	if *backoff > 0 {
		cc.ReconnectBackoff = *backoff
	}
	if *payload != "" {
		cc.HeartbeatPayload = *payload
	}
	if *maxAttempts > 0 {
		cc.MaxReconnectAttempts = *maxAttempts
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ws> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	// Logs go through readline so they don't clobber the prompt
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	recorder := journal.NewRecorder("", logger)
	events := recorder.Subscribe(1000)
	go printEntries(ctx, rl.Stdout(), events)

	mgr, err := connection.New(
		cc.ManagerConfig(),
		recorder.Hooks(connection.Hooks{
			OnGiveUp: func(int) { cancel() },
		}),
		connection.WithLogger(logger),
		connection.WithDialer(connection.NewWebsocketDialer(cc.WebsocketConfig(), logger)),
	)
	if err != nil && !errors.Is(err, connection.ErrDial) {
		rl.Close()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Unblock Readline when the session ends from outside the prompt
	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintf(rl.Stdout(), "connecting to %s (session %s)\n", cc.Endpoint, recorder.Session())
	printHelp(rl.Stdout())

	repl(ctx, rl, mgr)

	cancel()
	mgr.Close()
	select {
	case <-mgr.Done():
	case <-time.After(5 * time.Second):
	}
	recorder.Close()

	fmt.Fprintln(os.Stdout, "bye")
}

// repl reads lines until /quit, EOF, or the session ends.
func repl(ctx context.Context, rl *readline.Instance, mgr *connection.Manager) {
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "/quit", "/exit", "/close":
			return
		case "/help":
			printHelp(rl.Stdout())
			continue
		case "/stats":
			printStats(rl.Stdout(), mgr.Stats())
			continue
		}

		if err := mgr.Send([]byte(input)); err != nil {
			fmt.Fprintln(rl.Stdout(), "send failed:", err)
		}
	}
}

// printEntries renders journal entries until the session ends.
func printEntries(ctx context.Context, out io.Writer, q *journal.Queue[journal.Entry]) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			e, ok := q.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			fmt.Fprintln(out, formatEntry(e))
		}
	}
}

func formatEntry(e journal.Entry) string {
	ts := e.At.Local().Format("15:04:05.000")
	switch e.Kind {
	case journal.KindMessage:
		return fmt.Sprintf("%s < %s", ts, e.Payload)
	case journal.KindReconnect:
		return fmt.Sprintf("%s * reconnecting (attempt %d)", ts, e.Attempt)
	case journal.KindGiveUp:
		return fmt.Sprintf("%s * gave up after %d attempts", ts, e.Attempt)
	case journal.KindError, journal.KindClose:
		if e.Error != "" {
			return fmt.Sprintf("%s * %s: %s", ts, e.Kind, e.Error)
		}
	}
	return fmt.Sprintf("%s * %s", ts, e.Kind)
}

func printStats(out io.Writer, s connection.Stats) {
	fmt.Fprintf(out, "state=%s attempts=%d transport=%s opens=%d reconnects=%d pings=%d deadlines=%d\n",
		s.State, s.Attempts, s.TransportID, s.Opens, s.Reconnects, s.PingsSent, s.DeadlinesExpired)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `Type a line to send it. Commands:
  /stats   show connection stats
  /help    show this help
  /quit    close the connection and exit`)
}
