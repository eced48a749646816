package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb/internal/config"
	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/mcptools"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/store"
	"github.com/xonecas/symb/internal/treesitter"
	"github.com/xonecas/symb/internal/tui"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	// Parse CLI flags.
	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)

	providerName, providerCfg := resolveProvider(cfg, registry)

	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{
		Temperature: providerCfg.Temperature,
	})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	svc := setupServices(cfg, creds)
	defer svc.proxy.Close()
	defer svc.lspManager.StopAll(context.Background())
	if svc.webCache != nil {
		defer svc.webCache.Close()
	}

	// Handle --list: print sessions and exit.
	if *flagList {
		listSessions(svc.sessionStore)
		return
	}

	tools, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools: %v\n", err)
		tools = []mcp.Tool{}
	}

	// Register SubAgent tool after obtaining the tools list.
	// SubAgent needs access to provider and all tools to spawn isolated sub-agents.
	subAgentHandler := mcptools.NewSubAgentHandler(
		prov,
		svc.lspManager,
		svc.deltaTracker,
		svc.shell,
		svc.webCache,
		svc.exaKey,
		tools,
	)
	svc.proxy.RegisterTool(mcptools.NewSubAgentTool(), subAgentHandler.Handle)

	// Re-fetch tools list to include SubAgent
	tools, err = svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools after SubAgent registration: %v\n", err)
		tools = []mcp.Tool{}
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Warning: failed to get working directory: %v\n", err)
		cwd = "."
	}

	session, resumeHistory := resolveSession(*flagSession, *flagContinue, svc.sessionStore, cwd)

	// Build tree-sitter project symbol index.
	tsIndex := treesitter.NewIndex(cwd)
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}

	// Wire index into Read/Edit handlers for incremental updates.
	svc.readHandler.SetTSIndex(tsIndex)
	svc.editHandler.SetTSIndex(tsIndex)

	// Set session on delta tracker so file deltas are linked.
	if svc.deltaTracker != nil {
		svc.deltaTracker.SetSession(session.ID)
	}

	p := tea.NewProgram(
		tui.New(prov, svc.proxy, tools, providerCfg.Model, svc.sessionStore, session, tsIndex, svc.deltaTracker, svc.fileTracker, providerName, svc.scratchpad, resumeHistory),
		tea.WithFilter(tui.MouseEventFilter),
	)
	svc.lspManager.SetCallback(func(absPath string, lines map[int]int) {
		p.Send(tui.LSPDiagnosticsMsg{FilePath: absPath, Lines: lines})
	})

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running symb: %v\n", err)
		os.Exit(1)
	}
}

func buildRegistry(cfg *config.Config, _ *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		registry.RegisterFactory(name, provider.NewOllamaFactory(name, providerCfg.Endpoint))
	}
	return registry
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: Provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

type services struct {
	proxy        *mcp.Proxy
	lspManager   *lsp.Manager
	webCache     *store.Cache
	sessionStore *store.SessionStore
	readHandler  *mcptools.ReadHandler
	editHandler  *mcptools.EditHandler
	shellHandler *mcptools.ShellHandler
	fileTracker  *mcptools.FileReadTracker
	deltaTracker *delta.Tracker
	scratchpad   *mcptools.Scratchpad
	shell        *shell.Shell
	exaKey       string
}

func setupServices(cfg *config.Config, creds *config.Credentials) services {
	var mcpClient mcp.UpstreamClient
	if cfg.MCP.Upstream != "" {
		mcpClient = mcp.NewClient(cfg.MCP.Upstream)
	}
	proxy := mcp.NewProxy(mcpClient)
	if err := proxy.Initialize(context.Background()); err != nil {
		fmt.Printf("Warning: MCP init failed: %v\n", err)
	}

	lspManager := lsp.NewManager()
	fileTracker := mcptools.NewFileReadTracker()

	readHandler := mcptools.NewReadHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewReadTool(), readHandler.Handle)

	webCache := openWebCache(cfg)

	// Create delta tracker for undo support, sharing the same DB.
	var dt *delta.Tracker
	if webCache != nil {
		dt = delta.New(webCache.DB())
	}

	editHandler := mcptools.NewEditHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditTool(), editHandler.Handle)

	proxy.RegisterTool(mcptools.NewWebFetchTool(), mcptools.MakeWebFetchHandler(webCache))

	exaKey := creds.GetAPIKey("exa_ai")
	proxy.RegisterTool(mcptools.NewWebSearchTool(), mcptools.MakeWebSearchHandler(webCache, exaKey, ""))

	// Shell tool — in-process POSIX interpreter with command blocking.
	sh := shell.New("", shell.DefaultBlockFuncs())
	shellHandler := mcptools.NewShellHandler(sh, dt)
	proxy.RegisterTool(mcptools.NewShellTool(), shellHandler.Handle)

	patchHandler := mcptools.NewPatchHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewPatchTool(), patchHandler.Handle)

	proxy.RegisterTool(mcptools.NewListTool(), mcptools.NewListHandler().Handle)
	proxy.RegisterTool(mcptools.NewSearchTool(), mcptools.NewSearchHandler().Handle)
	proxy.RegisterTool(mcptools.NewWriteTool(), mcptools.NewWriteHandler(dt).Handle)
	proxy.RegisterTool(mcptools.NewAskUserTool(), mcptools.MakeAskUserHandler())
	proxy.RegisterTool(mcptools.NewRecallTool(), mcptools.MakeRecallHandler())

	// TodoWrite tool — agent scratchpad for plan/notes recitation.
	pad := &mcptools.Scratchpad{}
	proxy.RegisterTool(mcptools.NewTodoWriteTool(), mcptools.MakeTodoWriteHandler(pad))

	return services{
		proxy:        proxy,
		lspManager:   lspManager,
		webCache:     webCache,
		sessionStore: openSessionStore(),
		readHandler:  readHandler,
		editHandler:  editHandler,
		shellHandler: shellHandler,
		fileTracker:  fileTracker,
		deltaTracker: dt,
		scratchpad:   pad,
		shell:        sh,
		exaKey:       exaKey,
	}
}

// openSessionStore roots session persistence under the project's data
// directory (~/.config/symb equivalent), not the original's XDG data-share
// convention — this project's config already picks its own data root.
func openSessionStore() *store.SessionStore {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: session dir failed: %v\n", err)
		dataDir = "."
	}
	return store.NewSessionStore(dataDir)
}

func openWebCache(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "symb.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(sessions *store.SessionStore) {
	refs, err := sessions.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(refs) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, ref := range refs {
		ts := sessionTimestamp(ref.ID).Format("2006-01-02 15:04")
		preview := sessionPreview(ref.Path)
		fmt.Printf("%s  %s  %s\n", ref.ID, ts, preview)
	}
}

// sessionTimestamp recovers the creation time encoded in a session ID's
// "{unix_ts}_{cwd_basename}" prefix.
func sessionTimestamp(id string) time.Time {
	tsPart, _, ok := strings.Cut(id, "_")
	if !ok {
		return time.Time{}
	}
	var ts int64
	if _, err := fmt.Sscanf(tsPart, "%d", &ts); err != nil {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// sessionPreview returns the first user message of a session, truncated for
// a one-line listing.
func sessionPreview(path string) string {
	turns, err := store.LoadSessionTurns(path)
	if err != nil || len(turns) == 0 {
		return ""
	}
	preview := strings.ReplaceAll(turns[0].UserMessage, "\n", " ")
	if len(preview) > 50 {
		preview = preview[:50]
	}
	return preview
}

// resolveSession opens, resumes, or continues a session depending on the
// CLI flags given, returning the live session and any prior-turn context to
// seed the conversation with.
func resolveSession(flagSession string, flagContinue bool, sessions *store.SessionStore, cwd string) (*store.Session, []provider.Message) {
	switch {
	case flagSession != "":
		path := sessions.PathFor(flagSession)
		turns, err := store.LoadSessionTurns(path)
		if err != nil {
			fmt.Printf("Session %q not found\n", flagSession)
			os.Exit(1)
		}
		return &store.Session{ID: flagSession, Cwd: cwd, Turns: turns, ActiveTurn: len(turns) - 1, Path: path}, priorContextMessages(turns)

	case flagContinue:
		ref, ok := sessions.FindLatestForCwd(cwd)
		if !ok {
			fmt.Println("No sessions to continue")
			os.Exit(1)
		}
		turns, err := store.LoadSessionTurns(ref.Path)
		if err != nil {
			fmt.Printf("Warning: failed to load session history: %v\n", err)
		}
		return &store.Session{ID: ref.ID, Cwd: cwd, Turns: turns, ActiveTurn: len(turns) - 1, Path: ref.Path}, priorContextMessages(turns)

	default:
		session, err := sessions.OpenSession(cwd)
		if err != nil {
			fmt.Printf("Warning: failed to open session: %v\n", err)
			session = &store.Session{ID: "unsaved", Cwd: cwd}
		}
		return session, nil
	}
}

// priorContextMessages wraps a resumed session's turns as a single bounded
// preamble message, rather than replaying every turn verbatim.
func priorContextMessages(turns []store.ConversationTurn) []provider.Message {
	preamble := store.BuildPriorContext(turns)
	if preamble == "" {
		return nil
	}
	return []provider.Message{{Role: "user", Content: preamble, CreatedAt: time.Now()}}
}
