// Command ghostwrite runs a console ghostwriting session: it connects the
// realtime channel, prints transcripts and draft progress, and forwards stdin
// lines as typed user messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ghostwrite-dev/ghostwrite/internal/dotenv"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/draft"
	"github.com/ghostwrite-dev/ghostwrite/pkg/ghostwriter"
	"github.com/ghostwrite-dev/ghostwrite/pkg/realtime"
	"github.com/ghostwrite-dev/ghostwrite/pkg/session"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

type options struct {
	model      string
	baseURL    string
	driver     string
	redisAddr  string
	draftModel string
	debug      bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load()

	var opt options
	flag.StringVar(&opt.model, "model", envOr("GHOSTWRITE_REALTIME_MODEL", "gpt-realtime"), "Realtime model")
	flag.StringVar(&opt.baseURL, "base-url", os.Getenv("GHOSTWRITE_REALTIME_URL"), "Realtime base URL (default: the public endpoint)")
	flag.StringVar(&opt.driver, "store", envOr("GHOSTWRITE_STORE", "memory"), "Store driver: memory or postgres")
	flag.StringVar(&opt.redisAddr, "redis", os.Getenv("GHOSTWRITE_REDIS_ADDR"), "Redis address for the draft queue (optional)")
	flag.StringVar(&opt.draftModel, "draft-model", os.Getenv("GHOSTWRITE_DRAFT_MODEL"), "Chat model for the drafting worker")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (a .env file is loaded if present)")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, queue, err := buildStores(ctx, opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store setup:", err)
		return 1
	}
	defer queue.Close()

	controller := session.NewController(
		realtime.NewTransport(logger),
		stores,
		queue,
		realtime.Credentials{
			ClientSecret: apiKey,
			Model:        opt.model,
			BaseURL:      opt.baseURL,
		},
		consoleCallbacks(),
		logger,
	)

	worker := ghostwriter.NewOpenAIWorker(apiKey, opt.draftModel)
	runner := draft.NewRunner(queue, stores, worker, progressBridge{controller}, logger)
	go func() {
		if err := runner.Run(ctx); err != nil {
			logger.Warn("draft runner stopped", "error", err)
		}
	}()

	if err := controller.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "session start:", err)
		return 1
	}
	// Final stop: complete the session and finalize the transcript even when
	// the process exits on a signal.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = controller.Stop(stopCtx)
	}()

	fmt.Println("connected; type a message and press enter (/quit to exit)")
	lines := make(chan string)
	go readStdin(lines)

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit", "/stop":
				return 0
			case "/diag":
				for _, entry := range controller.Diagnostics() {
					fmt.Println(entry)
				}
				continue
			}
			if err := controller.SendText(line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
		}
	}
}

func buildStores(ctx context.Context, opt options) (store.Stores, store.JobQueue, error) {
	var storeOpts []store.Option
	if opt.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opt.redisAddr})
		if err := store.PingRedis(ctx, client); err != nil {
			return store.Stores{}, nil, fmt.Errorf("redis ping: %w", err)
		}
		storeOpts = append(storeOpts, store.WithRedisClient(client))
	}

	switch store.Driver(opt.driver) {
	case store.DriverMemory:
		return store.New(ctx, store.DriverMemory, storeOpts...)
	case store.DriverPostgres:
		dsn := strings.TrimSpace(os.Getenv("GHOSTWRITE_DATABASE_URL"))
		if dsn == "" {
			return store.Stores{}, nil, fmt.Errorf("postgres driver requires GHOSTWRITE_DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("pgx pool: %w", err)
		}
		storeOpts = append(storeOpts, store.WithPostgresPool(pool))
		return store.New(ctx, store.DriverPostgres, storeOpts...)
	default:
		return store.Stores{}, nil, fmt.Errorf("unknown store driver %q", opt.driver)
	}
}

func consoleCallbacks() session.Callbacks {
	return session.Callbacks{
		OnStatus: func(status types.SessionStatus, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "[session] %s: %v\n", status, err)
				return
			}
			fmt.Fprintf(os.Stderr, "[session] %s\n", status)
		},
		OnTranscript: func(frag types.TranscriptFragment) {
			fmt.Printf("[%s] %s\n", frag.Speaker, frag.Text)
		},
		OnSpeech: func(speaker types.Speaker, speaking bool) {
			if speaking {
				fmt.Fprintf(os.Stderr, "[%s speaking]\n", speaker)
			}
		},
		OnProgress: func(progress types.DraftProgress) {
			line := fmt.Sprintf("[draft] job %s %s", progress.JobID, progress.Status)
			if progress.Summary != "" {
				line += ": " + progress.Summary
			}
			if progress.Error != "" {
				line += " (" + progress.Error + ")"
			}
			fmt.Println(line)
		},
	}
}

// progressBridge routes runner progress into the live session's coordinator.
// With no session up, progress is dropped; the job row still records it.
type progressBridge struct {
	controller *session.Controller
}

func (b progressBridge) EmitProgress(progress types.DraftProgress) error {
	sc := b.controller.Current()
	if sc == nil {
		return nil
	}
	return sc.Drafts.EmitProgress(progress)
}

func readStdin(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
