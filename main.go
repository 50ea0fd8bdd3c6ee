// slate - a terminal chat client for local LLMs.
//
// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/morganforge/slate/internal/backend"
	"github.com/morganforge/slate/internal/cli"
	"github.com/morganforge/slate/internal/engine"
	"github.com/morganforge/slate/internal/kvstore"
	"github.com/morganforge/slate/internal/session"
	"github.com/morganforge/slate/internal/settings"
	"github.com/morganforge/slate/internal/storage"
	"github.com/morganforge/slate/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		plain       = flag.Bool("plain", false, "use the line-oriented interface")
		dataDir     = flag.String("data-dir", "", "data directory (default ~/.slate)")
		ollamaURL   = flag.String("ollama-url", "", "Ollama base URL (default http://127.0.0.1:11434)")
		ollamaModel = flag.String("model", "", "Ollama model name (default llama3.2:3b)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("slate %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*plain, *dataDir, *ollamaURL, *ollamaModel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(plain bool, dataDir, ollamaURL, ollamaModel string) error {
	dir, err := resolveDataDir(dataDir)
	if err != nil {
		return err
	}

	kv, err := kvstore.OpenSQLite(filepath.Join(dir, "slate.db"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	sm := settings.NewManager(filepath.Join(dir, "config.toml"))

	manager := session.NewManager(storage.New(kv))

	gen := backend.NewOllama(backend.OllamaConfig{
		BaseURL: ollamaURL,
		Model:   ollamaModel,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	// Hot-reload failures are not fatal; the file is still read at startup.
	_ = sm.Watch(ctx)

	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPlain(dir, manager, gen, sm)
	}
	return runTUI(manager, gen, sm)
}

// =============================================================================
// INTERFACES
// =============================================================================

// runTUI wires the engine's callbacks into the bubbletea message loop
// and runs the full-screen interface.
func runTUI(manager *session.Manager, gen backend.Generator, sm *settings.Manager) error {
	// The program is created after the engine, so the engine's
	// callbacks go through this indirection. It is set before Run, and
	// turns only start from input handled inside Run.
	var send func(tea.Msg)

	eng := engine.New(gen, manager, engine.Events{
		OnPartial: func(messageID, text string) {
			send(chat.PartialMsg{MessageID: messageID, Text: text})
		},
		OnTurnEnd: func(messageID string, err error) {
			send(chat.TurnEndMsg{MessageID: messageID, Err: err})
		},
	})
	wireInvalidation(manager, sm, eng)

	p := tea.NewProgram(
		chat.New(manager, eng, sm),
		tea.WithAltScreen(),
	)
	send = p.Send

	_, err := p.Run()
	eng.Cancel()
	return err
}

// runPlain runs the liner-based REPL.
func runPlain(dir string, manager *session.Manager, gen backend.Generator, sm *settings.Manager) error {
	repl, events := cli.New(manager, sm)
	eng := engine.New(gen, manager, events)
	repl.Bind(eng)
	wireInvalidation(manager, sm, eng)
	return repl.Run(dir)
}

// wireInvalidation drops the backend context whenever its inputs
// change: a settings change, a session switch, or a reset.
func wireInvalidation(manager *session.Manager, sm *settings.Manager, eng *engine.Engine) {
	manager.OnActiveChanged = eng.Invalidate
	sm.OnChange = eng.Invalidate
}

// =============================================================================
// PATHS
// =============================================================================

func resolveDataDir(flagValue string) (string, error) {
	dir := flagValue
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".slate")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}
