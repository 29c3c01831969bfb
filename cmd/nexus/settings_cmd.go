package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexus/internal/logging"
	"nexus/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and adjust destination settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List destinations, enabled state and tier assignments",
	RunE: func(*cobra.Command, []string) error {
		store, err := openSettings()
		if err != nil {
			return err
		}

		for _, dest := range store.Catalog() {
			marker := red("○")
			if store.IsEnabled(dest.ID) {
				marker = green("●")
			}
			tier := ""
			if dest.Tier != "" {
				tier = gray(" [" + dest.Tier + "]")
			}
			fmt.Printf("%s %s %s %s%s\n", marker, bold(dest.ID), dest.DisplayName,
				gray(dest.ProviderID+"/"+dest.ModelID), tier)
		}

		snap := store.Snapshot()
		if len(snap.TierAssignment) > 0 {
			fmt.Println()
			fmt.Println(bold("tier assignments"))
			for provider, tiers := range snap.TierAssignment {
				for tier, dest := range tiers {
					fmt.Printf("  %s/%s -> %s\n", provider, tier, dest)
				}
			}
		}
		return nil
	},
}

var settingsToggleCmd = &cobra.Command{
	Use:   "toggle <destination-id>",
	Short: "Enable or disable a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openSettings()
		if err != nil {
			return err
		}
		id := args[0]
		wasEnabled := store.IsEnabled(id)
		if err := store.ToggleDestination(id); err != nil {
			return err
		}
		nowEnabled := store.IsEnabled(id)
		switch {
		case wasEnabled && nowEnabled:
			fmt.Printf("%s %s stays enabled: it is the last enabled destination\n", yellow("!"), id)
		case nowEnabled:
			fmt.Printf("%s %s enabled\n", green("●"), id)
		default:
			fmt.Printf("%s %s disabled\n", red("○"), id)
		}
		return nil
	},
}

var settingsTierCmd = &cobra.Command{
	Use:   "tier <provider> <tier> [destination-id]",
	Short: "Assign a destination to a provider tier (omit the id to clear)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openSettings()
		if err != nil {
			return err
		}
		provider, tier := args[0], args[1]
		destination := ""
		if len(args) == 3 {
			destination = args[2]
		}
		if err := store.SetTierDestination(provider, tier, destination); err != nil {
			return err
		}
		if resolved, ok := store.ResolveDestinationForTier(provider, tier); ok {
			fmt.Printf("%s/%s resolves to %s\n", provider, tier, bold(resolved))
		} else {
			fmt.Printf("%s/%s has no enabled destination\n", provider, tier)
		}
		return nil
	},
}

func openSettings() (*settings.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildSettings(cfg, logging.NewComponentLogger("Settings"))
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsToggleCmd, settingsTierCmd)
}
