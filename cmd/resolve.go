package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve URL...",
		Short: "Discover the icon for each site and print it",
		Long: `resolve runs discovery for each argument without the cache. Bare
hostnames such as "example.com" are treated as https URLs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	failed := 0
	for _, site := range args {
		discovery, err := a.Resolver.Discover(cmd.Context(), site)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", site, err)
			continue
		}
		fmt.Fprintf(out, "%s -> %s (%s/%s)\n", site, discovery.IconURL, discovery.Strategy, discovery.Source)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sites failed", failed, len(args))
	}
	return nil
}
