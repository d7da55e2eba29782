// envoy-core - transcript engine and reference CLI for the Envoy workspace.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/envoyhq/envoy-core/internal/backend"
	"github.com/envoyhq/envoy-core/internal/backend/agent"
	"github.com/envoyhq/envoy-core/internal/backend/local"
	"github.com/envoyhq/envoy-core/internal/chat"
	"github.com/envoyhq/envoy-core/internal/config"
	"github.com/envoyhq/envoy-core/internal/model"
	"github.com/envoyhq/envoy-core/internal/presentation"
	"github.com/envoyhq/envoy-core/internal/prompt"
	"github.com/envoyhq/envoy-core/internal/storage"
	"github.com/envoyhq/envoy-core/internal/store"
	"github.com/envoyhq/envoy-core/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("envoy: ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		log.Fatalf("storage path: %v", err)
	}
	persist, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer persist.Close()

	threads := store.NewThreadStore()
	localClient := local.NewClientWithConfig(&local.ClientConfig{
		BaseURL:           cfg.Local.BaseURL,
		Timeout:           time.Duration(cfg.Local.TimeoutSecs) * time.Second,
		DefaultModel:      cfg.DefaultModel,
		RequestsPerSecond: cfg.Local.RequestsPerSecond,
	})

	engine := chat.NewEngine(chat.Deps{
		Store:        threads,
		Local:        localClient,
		Persist:      persist,
		DefaultModel: cfg.DefaultModel,
		Notice: func(n chat.Notice) {
			fmt.Fprintf(os.Stderr, "\n[notice] %s: %v\n", n.Text, n.Err)
		},
	})

	if cfg.Agent.BaseURL != "" && cfg.Agent.Name != "" {
		agentClient := agent.NewClient(agent.Config{
			BaseURL:   cfg.Agent.BaseURL,
			AgentName: cfg.Agent.Name,
			Timeout:   time.Duration(cfg.Agent.TimeoutSecs) * time.Second,
		})
		if err := agentClient.Connect(context.Background()); err != nil {
			log.Printf("agent %q unavailable: %v", cfg.Agent.Name, err)
		} else {
			engine.RegisterAgent(cfg.Agent.Name, agentClient)
		}
	}

	if err := engine.Hydrate(); err != nil {
		log.Fatalf("hydrate: %v", err)
	}

	// Live config reload: announced only, applied on next start.
	if path, err := config.ConfigPath(); err == nil {
		if w, werr := config.NewWatcher(path, 0, func(next *config.Config) {
			log.Printf("config changed on disk (default model: %s); restart to apply", next.DefaultModel)
		}); werr == nil {
			if werr := w.Watch(); werr == nil {
				defer w.Close()
			}
		}
	}

	loadModel(localClient, cfg.DefaultModel)
	runREPL(engine, threads, persist, cfg)
}

// loadModel loads the default model, printing coarse progress.
func loadModel(client *local.Client, modelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := client.LoadModel(ctx, modelID, func(p backend.LoadProgress) {
		fmt.Printf("\rloading %s: %3.0f%% %-30s", modelID, p.Fraction*100, p.Status)
	})
	fmt.Println()
	if err != nil {
		log.Printf("model load failed (continuing; sends will error): %v", err)
	}
}

// runREPL is the interactive loop.
func runREPL(engine *chat.Engine, threads *store.ThreadStore, persist *storage.Store, cfg *config.Config) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("envoy-core %s (%s) — /help for commands\n", Version, GitCommit)

	current := engine.CreateThread(cfg.DefaultModel, cfg.DefaultProvider)
	threads.Select(current.ID)

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl-C or EOF
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(engine, threads, persist, cfg, &current, input); quit {
				return
			}
			continue
		}

		send(engine, current.ID, input)
	}
}

// send streams one reply to stdout.
func send(engine *chat.Engine, threadID, input string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	style := presentation.ForRole(model.RoleAssistant)
	fmt.Printf("%s ", style.Icon)

	result, err := engine.Send(ctx, threadID, input, promptContext(), func(delta, _ string) {
		fmt.Print(delta)
	})
	fmt.Println()

	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	case result != nil && result.Empty:
		fmt.Println("(no response)")
	case result != nil && result.Message != nil && result.Message.TokenCount > 0:
		fmt.Printf("  [%d tokens in %dms]\n", result.Message.TokenCount, result.Message.DurationMs)
	}
}

// runCommand handles slash commands. Returns true to quit.
func runCommand(engine *chat.Engine, threads *store.ThreadStore, persist *storage.Store, cfg *config.Config, current **model.Thread, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("/new [model]         start a new thread")
		fmt.Println("/agent <name>        start a thread with an agent")
		fmt.Println("/threads [query]     list threads, optionally filtered")
		fmt.Println("/rename <title>      rename the current thread")
		fmt.Println("/pin /star /archive  toggle flags on the current thread")
		fmt.Println("/export <path>       write a JSON snapshot")
		fmt.Println("/quit                exit")

	case "/new":
		modelID := cfg.DefaultModel
		if len(args) > 0 {
			modelID = args[0]
		}
		*current = engine.CreateThread(modelID, cfg.DefaultProvider)
		threads.Select((*current).ID)
		fmt.Printf("new thread %s (%s)\n", (*current).ID, modelID)

	case "/agent":
		if len(args) == 0 {
			fmt.Println("usage: /agent <name>")
			break
		}
		*current = engine.CreateAgentThread(args[0])
		threads.Select((*current).ID)
		fmt.Printf("new agent thread %s (@%s)\n", (*current).ID, args[0])

	case "/threads":
		listing := threads.List(store.ListOptions{Search: strings.Join(args, " ")})
		printListing(listing)

	case "/rename":
		if len(args) == 0 {
			fmt.Println("usage: /rename <title>")
			break
		}
		if err := threads.Rename((*current).ID, strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}

	case "/pin", "/star", "/archive":
		flag := map[string]store.Flag{"/pin": store.FlagPinned, "/star": store.FlagStarred, "/archive": store.FlagArchived}[cmd]
		on, err := threads.ToggleFlag((*current).ID, flag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			break
		}
		fmt.Printf("%s = %v\n", flag, on)

	case "/export":
		if len(args) == 0 {
			fmt.Println("usage: /export <path>")
			break
		}
		all, err := persist.LoadAll()
		if err == nil {
			err = storage.ExportSnapshot(args[0], all)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		} else {
			fmt.Printf("exported %d threads to %s\n", len(all), args[0])
		}

	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}

// promptContext derives the workspace context for the CLI. The desktop shell
// passes real document/task contexts; the CLI has none.
func promptContext() prompt.Context {
	return prompt.NoContext
}

// printListing renders a grouped listing to stdout.
func printListing(l *store.Listing) {
	if len(l.Pinned) > 0 {
		fmt.Println("Pinned")
		for _, t := range l.Pinned {
			printThreadLine(t)
		}
	}
	for _, g := range l.Groups {
		fmt.Println(g.Bucket.String())
		for _, t := range g.Threads {
			printThreadLine(t)
		}
	}
	if l.Total() == 0 {
		fmt.Println("(no threads)")
	}
}

// printThreadLine renders one thread row.
func printThreadLine(t *model.Thread) {
	marker := " "
	if t.Starred {
		marker = "*"
	}
	fmt.Printf("  %s %-20s %s (%d messages, %s)\n",
		marker, t.ID, util.TruncateRunes(t.GetTitle(), 40), t.MessageCount(), t.Mode())
}
