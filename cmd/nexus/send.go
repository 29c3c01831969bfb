package main

import (
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nexus/internal/broadcast"
	"nexus/internal/logging"
	"nexus/internal/settings"
)

var (
	sendConversation string
	sendTier         string
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Broadcast a message to the enabled destinations and print each reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.NewComponentLogger("Send")

		store := buildStore(cfg, logger)
		settingsStore, err := buildSettings(cfg, logger)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		panels := panelsForBroadcast(settingsStore, sendTier)
		if len(panels) == 0 {
			return fmt.Errorf("no enabled destinations to broadcast to")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		message := strings.Join(args, " ")
		conversationID := sendConversation
		if conversationID == "" {
			conversationID, err = store.CreateConversation(ctx, title(message))
			if err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
			fmt.Printf("%s %s\n", gray("conversation"), conversationID)
		}

		names := make(map[string]string, len(panels))
		for _, panel := range panels {
			names[panel.ID] = panel.DisplayName
		}

		client := broadcast.NewHTTPStreamClient(cfg.Broadcast.Endpoint, 0, logger)
		session := broadcast.NewSession(store, client,
			broadcast.WithGracePeriod(0),
			broadcast.WithSessionLogger(logger),
			broadcast.WithFinishObserver(func(states map[string]broadcast.PanelState) {
				printResults(states, names)
			}),
		)

		fmt.Printf("%s %d destination(s)\n", bold("broadcasting to"), len(panels))
		return session.Submit(ctx, conversationID, message, panels)
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "existing conversation id (created when omitted)")
	sendCmd.Flags().StringVarP(&sendTier, "tier", "t", "", "resolve one destination per provider for this tier")
}

// panelsForBroadcast maps the enabled destinations to panels. With a tier,
// each provider contributes its resolved destination instead of every
// enabled one.
func panelsForBroadcast(store *settings.Store, tier string) []broadcast.Panel {
	catalog := store.Catalog()
	byID := make(map[string]settings.Destination, len(catalog))
	providers := make([]string, 0)
	seenProvider := make(map[string]bool)
	for _, dest := range catalog {
		byID[dest.ID] = dest
		if !seenProvider[dest.ProviderID] {
			seenProvider[dest.ProviderID] = true
			providers = append(providers, dest.ProviderID)
		}
	}

	var chosen []settings.Destination
	if tier == "" {
		chosen = store.EnabledDestinations()
	} else {
		for _, provider := range providers {
			if id, ok := store.ResolveDestinationForTier(provider, tier); ok {
				chosen = append(chosen, byID[id])
			}
		}
	}

	panels := make([]broadcast.Panel, 0, len(chosen))
	for i, dest := range chosen {
		panels = append(panels, broadcast.Panel{
			ID:          dest.ID,
			ModelID:     dest.ModelID,
			ProviderID:  dest.ProviderID,
			DisplayName: dest.DisplayName,
			Position:    i,
			IsActive:    true,
		})
	}
	return panels
}

func printResults(states map[string]broadcast.PanelState, names map[string]string) {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state := states[id]
		name := names[id]
		if name == "" {
			name = id
		}
		fmt.Println()
		switch state.Status {
		case broadcast.StatusCompleted:
			fmt.Printf("%s %s\n%s\n", green("●"), bold(name), state.AccumulatedText)
		case broadcast.StatusError:
			fmt.Printf("%s %s\n%s\n", red("●"), bold(name), red(state.ErrorMessage))
		default:
			fmt.Printf("%s %s %s\n", yellow("●"), bold(name), gray(string(state.Status)))
		}
	}
}

// title derives a conversation title from the first runes of the message.
// Truncation is rune-based so a multibyte character at the cut point cannot
// produce an invalid title.
func title(message string) string {
	const max = 48
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "..."
}
