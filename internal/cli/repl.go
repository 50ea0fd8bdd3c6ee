// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/morganforge/slate/internal/engine"
	"github.com/morganforge/slate/internal/session"
	"github.com/morganforge/slate/internal/settings"
)

// =============================================================================
// REPL
// =============================================================================

// REPL is the line-oriented chat loop.
type REPL struct {
	manager  *session.Manager
	eng      *engine.Engine
	settings *settings.Manager

	mu      sync.Mutex
	printed int // bytes of the current response already printed
	done    chan error
}

// New creates a REPL. The returned Events are handed to engine.New;
// Bind attaches the engine before Run.
func New(manager *session.Manager, sm *settings.Manager) (*REPL, engine.Events) {
	r := &REPL{
		manager:  manager,
		settings: sm,
		done:     make(chan error, 1),
	}
	return r, engine.Events{
		OnPartial: r.onPartial,
		OnTurnEnd: r.onTurnEnd,
	}
}

// Bind attaches the engine. Must be called before Run.
func (r *REPL) Bind(eng *engine.Engine) {
	r.eng = eng
}

// onPartial prints the delta between the previous cumulative snapshot
// and this one, so the response appears to type itself.
func (r *REPL) onPartial(_, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(text) > r.printed {
		fmt.Print(text[r.printed:])
		r.printed = len(text)
	}
}

func (r *REPL) onTurnEnd(_ string, err error) {
	r.done <- err
}

// Run reads prompts until EOF or /quit.
func (r *REPL) Run(dataDir string) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := filepath.Join(dataDir, "history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("slate - type /quit to exit, /new for a fresh conversation")

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(input); quit {
				return nil
			}
			continue
		}

		r.runTurn(input)
	}
}

// runTurn submits one prompt and blocks until the turn ends.
func (r *REPL) runTurn(prompt string) {
	r.mu.Lock()
	r.printed = 0
	r.mu.Unlock()

	if err := r.eng.Submit(r.settings.Snapshot(), prompt); err != nil {
		fmt.Println("error:", err)
		return
	}

	err := <-r.done
	fmt.Println()
	if err != nil {
		fmt.Println("error:", err)
	}
}

// handleCommand runs a slash command, reporting whether to quit.
func (r *REPL) handleCommand(input string) bool {
	switch strings.Fields(input)[0] {
	case "/quit", "/q":
		return true

	case "/new", "/n":
		r.manager.NewConversation()
		fmt.Println("started a new conversation")

	case "/sessions", "/s":
		for i, s := range r.manager.Sessions() {
			marker := " "
			if s.ID == r.manager.ActiveID() {
				marker = "*"
			}
			fmt.Printf("%s %2d. %-18s %s\n", marker, i+1, s.Title, s.PreviewText)
		}

	case "/help", "/h":
		fmt.Println("/new      start a new conversation")
		fmt.Println("/sessions list sessions")
		fmt.Println("/quit     exit")

	default:
		fmt.Println("unknown command; /help lists commands")
	}
	return false
}
