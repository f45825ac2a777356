package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haulbit/haulbit/internal/client"
	"github.com/haulbit/haulbit/internal/config"
	"github.com/haulbit/haulbit/internal/logging"
	"github.com/haulbit/haulbit/pkg/protocol"
)

const clientVersion = "v0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return
	}
	if args[0] == "-v" || args[0] == "--version" || args[0] == "version" {
		fmt.Println(clientVersion)
		return
	}

	verb := args[0]
	cfg, rest := config.ParseClientConfig(args[1:])
	logger := logging.New("haul", cfg.LogLevel)

	var err error
	switch verb {
	case "send":
		err = runSend(cfg, rest, logger)
	case "resume":
		err = runResume(cfg, rest, logger)
	case "status":
		err = runStatus(cfg, rest)
	case "resumable":
		err = runResumable(cfg)
	case "cancel":
		err = runCancel(cfg, rest)
	case "watch":
		err = runWatch(cfg, rest, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runSend uploads one file in a fresh session, surviving interrupts by
// recording the session in the refresh cache.
func runSend(cfg config.ClientConfig, rest []string, logger *slog.Logger) error {
	if len(rest) != 1 {
		return fmt.Errorf("usage: haul send [flags] <file>")
	}
	path := rest[0]
	sessionID := uuid.NewString()
	return transfer(cfg, sessionID, path, logger)
}

// runResume reattaches to the sessions recorded in the refresh cache, or to
// an explicit session id.
func runResume(cfg config.ClientConfig, rest []string, logger *slog.Logger) error {
	cache, err := client.NewStateCache()
	if err != nil {
		return err
	}
	sessions := cache.Load()
	if len(rest) == 2 {
		// haul resume <id> <file>
		sessions = []client.ActiveSession{{
			SessionID:   rest[0],
			Path:        rest[1],
			ChunkSize:   cfg.ChunkSize,
			TotalChunks: 0,
		}}
	}
	if len(sessions) == 0 {
		fmt.Println("nothing to resume")
		return nil
	}
	for _, s := range sessions {
		chunkSize := s.ChunkSize
		if chunkSize <= 0 {
			chunkSize = cfg.ChunkSize
		}
		resumeCfg := cfg
		resumeCfg.ChunkSize = chunkSize
		if err := transfer(resumeCfg, s.SessionID, s.Path, logger); err != nil {
			return err
		}
	}
	cache.Clear()
	return nil
}

// transfer drives one session to completion: handshake, pump, events.
func transfer(cfg config.ClientConfig, sessionID, path string, logger *slog.Logger) error {
	api := client.NewAPI(strings.TrimRight(cfg.ServerURL, "/"), cfg.ChunkTimeout, cfg.HTTP3)

	var sender client.Sender
	httpClient := client.NewHTTPClient(cfg.ChunkTimeout, cfg.HTTP3)
	if cfg.Binary {
		sender = &client.BinarySender{Client: httpClient}
	} else {
		sender = &client.MultipartSender{Client: httpClient}
	}

	task, err := client.NewTask(sessionID, path, cfg.ChunkSize)
	if err != nil {
		return err
	}
	defer task.Close()

	tasks := client.NewTasks()
	tasks.Add(task)
	policy := client.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBase)
	pump := client.NewPump(api, sender, tasks, policy, cfg.Concurrency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handshake first so a reattaching client only sends what is missing.
	rec, err := api.Resume(ctx, sessionID, task.TotalChunks(), task.FileName, task.FileSize(), task.ChunkSize())
	if err != nil {
		return fmt.Errorf("resume handshake: %w", err)
	}
	task.MarkReceived(rec.Received)
	fmt.Printf("session %s: %d/%d chunks already on server\n", sessionID, len(rec.Received), task.TotalChunks())

	pump.Start(task)

	cache, cacheErr := client.NewStateCache()
	for {
		select {
		case <-ctx.Done():
			// Interrupted: pause and record the session so a restarted
			// client can reattach.
			pump.Pause(sessionID)
			if cacheErr == nil {
				_ = cache.Save([]client.ActiveSession{{
					SessionID:   sessionID,
					Path:        path,
					ChunkSize:   cfg.ChunkSize,
					TotalChunks: task.TotalChunks(),
				}})
			}
			fmt.Println("\npaused; run `haul resume` to continue")
			return nil
		case ev := <-tasks.Events():
			switch ev.State {
			case client.StateUploading:
				fmt.Printf("\r%6.2f%%  %s/s  eta %s ",
					ev.Stats.Percent, formatRate(ev.Stats.RateBps), formatETA(ev.Stats.ETA))
			case client.StateCompleting:
				fmt.Print("\nassembling...")
			case client.StateCompleted:
				fmt.Println(" done")
				if cacheErr == nil {
					cache.Clear()
				}
				return nil
			case client.StateFailed:
				return fmt.Errorf("upload failed: %s", ev.Err)
			}
		}
	}
}

func runStatus(cfg config.ClientConfig, rest []string) error {
	api := client.NewAPI(strings.TrimRight(cfg.ServerURL, "/"), cfg.ChunkTimeout, cfg.HTTP3)
	ctx := context.Background()
	if len(rest) == 1 {
		st, err := api.Status(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	}
	all, err := api.All(ctx)
	if err != nil {
		return err
	}
	return printJSON(all)
}

func runResumable(cfg config.ClientConfig) error {
	api := client.NewAPI(strings.TrimRight(cfg.ServerURL, "/"), cfg.ChunkTimeout, cfg.HTTP3)
	list, err := api.Resumable(context.Background())
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runCancel(cfg config.ClientConfig, rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("usage: haul cancel <session-id>")
	}
	api := client.NewAPI(strings.TrimRight(cfg.ServerURL, "/"), cfg.ChunkTimeout, cfg.HTTP3)
	return api.Cancel(context.Background(), rest[0])
}

// runWatch streams progress events from the server over a websocket.
func runWatch(cfg config.ClientConfig, rest []string, logger *slog.Logger) error {
	wsURL, err := eventsURL(cfg.ServerURL, rest)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	logger.Info("watching upload events", "url", wsURL)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev protocol.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("%-10s %s %d/%d (%.1f%%)\n",
			ev.Type, ev.SessionID, ev.Received, ev.TotalChunks, ev.Progress)
	}
}

// eventsURL derives the websocket endpoint from the HTTP base URL.
func eventsURL(serverURL string, rest []string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/upload/events"
	if len(rest) == 1 {
		u.RawQuery = "sessionId=" + url.QueryEscape(rest[0])
	}
	return u.String(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRate(bps float64) string {
	units := []string{"B", "KB", "MB", "GB"}
	i := 0
	for bps >= 1024 && i < len(units)-1 {
		bps /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", bps, units[i])
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return d.Round(time.Second).String()
}

func printUsage() {
	fmt.Print(`haul - resumable chunked-upload client

Usage:
  haul send [flags] <file>        upload a file in a new session
  haul resume [flags] [id file]   reattach to interrupted sessions
  haul status [flags] [id]        show one or all sessions
  haul resumable [flags]          list sessions that can be resumed
  haul cancel [flags] <id>        cancel a session and delete its chunks
  haul watch [flags] [id]         stream live progress events

Key flags:
  -server string       server base URL (default "http://localhost:8080")
  -chunk-size int      chunk size in bytes (default 5 MiB)
  -concurrency int     concurrent chunk sends (default 3)
  -max-retries int     send attempts per chunk, incl. the first (default 3)
  -binary              use the raw-binary endpoint instead of multipart
  -http3               use HTTP/3 transport
`)
}
