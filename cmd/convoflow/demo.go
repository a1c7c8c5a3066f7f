package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	redisadapter "github.com/convoflow/convoflow/internal/adapters/redis"
	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/fanout"
	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/logging"
	"github.com/convoflow/convoflow/internal/orchestrator"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/domain"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the interactive reservation demo",
	Long:  `Starts a self-contained session on the built-in restaurant reservation flow. Without --redis an embedded store is used, so no infrastructure is required.`,
	Run: func(cmd *cobra.Command, args []string) {
		redisURL, _ := cmd.Flags().GetString("redis")
		if err := runDemo(redisURL); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().String("redis", "", "Redis connection URL (empty runs an embedded store)")
}

func runDemo(redisURL string) error {
	logger := logging.NewNop()

	if redisURL == "" {
		embedded, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("starting embedded store: %w", err)
		}
		defer embedded.Close()
		redisURL = embedded.Addr()
	}

	store, err := redisadapter.Open(redisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := tools.NewRegistry()
	registerDemoWorkers(registry)
	executor := tools.NewExecutor(store, registry, logger)
	engine := orchestrator.New(store, classify.NewDeterministic(), executor, logger)
	hub := fanout.New(store, logger)

	ctx := context.Background()
	sessionID := uuid.NewString()

	// Attach before creating the session so the greeting arrives live.
	observer, err := hub.Attach(ctx, sessionID)
	if err != nil {
		return err
	}
	defer observer.Detach()

	if _, err := engine.CreateSession(ctx, sessionID, flow.ReservationFlow()); err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		printDemoBanner()
	}

	profile := termenv.ColorProfile()
	reader := bufio.NewReader(os.Stdin)

	for ev := range observer.C {
		switch ev.Type {
		case domain.EventSay:
			fmt.Println(termenv.String("🤖 " + ev.Text).Foreground(profile.Color("#c084fc")))
		case domain.EventAsk:
			fmt.Println(termenv.String("🤖 " + ev.Text).Foreground(profile.Color("#818cf8")))
			if interactive {
				fmt.Print("> ")
			}
			text, err := reader.ReadString('\n')
			if err != nil {
				return nil
			}
			text = strings.TrimSpace(text)
			for text == "" {
				if interactive {
					fmt.Print("> ")
				}
				line, err := reader.ReadString('\n')
				if err != nil {
					return nil
				}
				text = strings.TrimSpace(line)
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Bye!")
				return engine.DeleteSession(ctx, sessionID)
			}
			if err := engine.ProcessUserInput(ctx, sessionID, text); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case domain.EventToolCall:
			fmt.Println(termenv.String("   [" + ev.Tool + "...]").Faint())
		case domain.EventToolError:
			fmt.Println(termenv.String("   [tool failed: " + ev.Error + "]").Foreground(profile.Color("#fb7185")))
		case domain.EventTransfer:
			fmt.Println(termenv.String("📞 Transferring you to " + ev.Target).Foreground(profile.Color("#f472b6")))
			return engine.DeleteSession(ctx, sessionID)
		case domain.EventHangup:
			fmt.Println(termenv.String("📞 Call ended.").Foreground(profile.Color("#f472b6")))
			return engine.DeleteSession(ctx, sessionID)
		}
	}
	return nil
}

func printDemoBanner() {
	p := termenv.ColorProfile()
	lines := []string{
		"┌──────────────────────────────────────┐",
		"│  convoflow · reservation demo        │",
		"│  type 'exit' to hang up              │",
		"└──────────────────────────────────────┘",
	}
	colors := []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9"}

	fmt.Println()
	for i, line := range lines {
		fmt.Println(termenv.String(line).Foreground(p.Color(colors[i])))
	}
	fmt.Println()
}
