package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"Evolve-Chain/internal/oracle/provider"
	"Evolve-Chain/internal/policy"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "校验配置文件、进化策略与价格源目录",
	Args:  cobra.NoArgs,
	RunE:  runCheckConfig,
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pol := policy.FromConfig(cfg.Policy)
	if err := pol.Validate(); err != nil {
		return err
	}
	catalogue, err := provider.NewCatalogue(cfg.Oracle)
	if err != nil {
		return err
	}
	defer catalogue.Close()
	initial, err := provider.InitialFeed(cfg.Oracle, catalogue)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policy: low=%s high=%s cooldown=%s [%s, %s]\n",
		pol.LowThreshold, pol.HighThreshold, pol.Cooldown, pol.MinCooldown, pol.MaxCooldown)
	fmt.Fprintf(out, "registry: %s\n", cfg.Registry.Driver)
	fmt.Fprintf(out, "notify: %v\n", cfg.Notify.Sinks)
	fmt.Fprintf(out, "auth: %s\n", cfg.Auth.Mode)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FEED\tKIND\tACTIVE\tDESCRIPTION")
	for _, feed := range catalogue.Feeds() {
		active := ""
		if feed.Name == initial {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", feed.Name, feed.Kind, active, feed.Description)
	}
	return w.Flush()
}
