// Command fast-resume is the CLI entry point: it wires configuration,
// adapters, the index, and the aggregator together and answers a single
// query from flags, printing matching sessions and, for --resume, the
// launcher argv for the caller to exec.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/adapter/claudecode"
	"github.com/marcus/fastresume/internal/adapter/codex"
	"github.com/marcus/fastresume/internal/adapter/copilot"
	"github.com/marcus/fastresume/internal/adapter/crush"
	"github.com/marcus/fastresume/internal/adapter/opencode"
	"github.com/marcus/fastresume/internal/adapter/vibe"
	"github.com/marcus/fastresume/internal/aggregator"
	"github.com/marcus/fastresume/internal/config"
	"github.com/marcus/fastresume/internal/index"
	"github.com/marcus/fastresume/internal/record"
	"github.com/marcus/fastresume/internal/watch"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	query       = flag.String("query", "", "fuzzy search query")
	agentFlag   = flag.String("agent", "", "filter by agent tag")
	directory   = flag.String("directory", "", "filter by directory substring")
	limit       = flag.Int("limit", 0, "maximum results (0 uses the configured default)")
	resumeID    = flag.String("resume", "", "print the resume argv for this session id instead of searching")
	yolo        = flag.Bool("yolo", false, "request yolo (approval/sandbox bypass) when resuming")
	forceReload = flag.Bool("refresh", false, "force a full re-ingest before answering")
	jsonOutput  = flag.Bool("json", false, "print results as JSON")
	debug       = flag.Bool("debug", false, "enable debug logging")
	serve       = flag.Bool("serve", false, "run a long-lived process that re-ingests on filesystem change instead of answering one query")
)

func main() {
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logWriter := io.Discard
	if logFile, err := openLogFile(); err == nil {
		logWriter = logFile
		defer logFile.Close()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ix, err := index.Open(cfg.Index.Path, cfg.Index.SchemaVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open index: %v\n", err)
		os.Exit(1)
	}
	defer ix.Close()

	adapters := buildAdapters(cfg)
	agg := aggregator.New(ix, adapters)

	if *serve {
		runServe(agg, cfg)
		return
	}

	if *resumeID != "" {
		runResume(agg, *resumeID, *yolo)
		return
	}

	runSearch(agg, cfg)
}

// runServe watches every configured adapter root and triggers a
// StreamSessions ingest whenever one of them changes, instead of polling.
// The incremental diff protocol itself is unchanged — watch only decides
// *when* to re-run it.
func runServe(agg *aggregator.Aggregator, cfg *config.Config) {
	roots := []string{
		cfg.Adapters.ClaudeCodeDir,
		cfg.Adapters.CodexDir,
		cfg.Adapters.CopilotDir,
		filepath.Dir(cfg.Adapters.CrushProjects),
		cfg.Adapters.OpenCodeDir,
		cfg.Adapters.VibeDir,
	}

	if _, err := agg.GetAllSessions(false); err != nil {
		slog.Error("initial ingest failed", "error", err)
	}

	signal, closer, err := watch.Watch(roots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	slog.Info("serving", "roots", roots)
	for range signal {
		summary, err := agg.StreamSessions(nil)
		if err != nil {
			slog.Error("re-ingest failed", "error", err)
			continue
		}
		slog.Info("re-ingested",
			"new", summary.New, "updated", summary.Updated,
			"deleted", summary.Deleted, "errors", summary.Errors)
	}
}

// openLogFile opens (creating if needed) the debug log file alongside the
// user's config. Logging never goes to stderr: a caller may pipe stdout
// for scripting, and stderr is reserved for user-facing error messages.
func openLogFile() (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, ".config", "fast-resume")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// buildAdapters always constructs all six adapters, regardless of whether
// their source root currently exists: availability is checked per-scan by
// each adapter, not here, so that a root which vanishes after the first
// ingest still produces deletions instead of leaving stale documents in
// the index forever.
func buildAdapters(cfg *config.Config) []adapter.Adapter {
	adapters := []adapter.Adapter{
		claudecode.New(cfg.Adapters.ClaudeCodeDir),
		codex.New(cfg.Adapters.CodexDir),
		copilot.New(cfg.Adapters.CopilotDir),
		crush.New(cfg.Adapters.CrushProjects),
		opencode.New(cfg.Adapters.OpenCodeDir),
		vibe.New(cfg.Adapters.VibeDir),
	}
	for _, a := range adapters {
		if !a.IsAvailable() {
			slog.Debug("adapter source unavailable", "agent", a.Name())
		}
	}
	return adapters
}

func runSearch(agg *aggregator.Aggregator, cfg *config.Config) {
	effectiveLimit := *limit
	if effectiveLimit <= 0 {
		effectiveLimit = cfg.Search.DefaultLimit
	}

	if *forceReload {
		if _, err := agg.GetAllSessions(true); err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			os.Exit(1)
		}
	}

	sessions, err := agg.Search(*query, *agentFlag, *directory, effectiveLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
		os.Exit(1)
	}

	printSessions(os.Stdout, sessions)
}

func runResume(agg *aggregator.Aggregator, id string, yolo bool) {
	sessions, err := agg.GetAllSessions(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load sessions: %v\n", err)
		os.Exit(1)
	}

	for _, s := range sessions {
		if s.ID != id {
			continue
		}
		argv := agg.ResumeCommand(s, yolo)
		if len(argv) == 0 {
			fmt.Fprintf(os.Stderr, "no resume command for session %s (agent %s)\n", id, s.Agent)
			os.Exit(1)
		}
		fmt.Println(s.Directory)
		fmt.Println(joinArgv(argv))
		return
	}

	fmt.Fprintf(os.Stderr, "session not found: %s\n", id)
	os.Exit(1)
}

func joinArgv(argv []string) string {
	data, err := json.Marshal(argv)
	if err != nil {
		return ""
	}
	return string(data)
}

func printSessions(w io.Writer, sessions []record.Session) {
	if *jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sessions)
		return
	}

	for _, s := range sessions {
		fmt.Fprintf(w, "%-12s %-8s %-40s %s\n", s.ID, s.Agent, truncate(s.Title, 40), s.Directory)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
