package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tzhukov/pollprobe/config"
	"github.com/tzhukov/pollprobe/poller"
	"github.com/tzhukov/pollprobe/token"
)

// newProbeCmd runs a single poll loop in-process, the same way POST /poll
// does, and prints the summary.
func newProbeCmd() *cobra.Command {
	var accessToken string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one poll loop locally and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			parser, err := newClaimsParser(ctx, cfg)
			if err != nil {
				return err
			}

			clock := poller.SystemClock{}
			start := clock.Now()
			token.Inspect(ctx, parser, accessToken, start, poller.MaxDuration)

			p := poller.New(querierFactory(cfg)(ctx, accessToken), poller.WithRunID(uuid.NewString()))
			res := p.Run(ctx, start)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Summary)
		},
	}
	cmd.Flags().StringVar(&accessToken, "token", config.GetEnv("FALCON_ACCESS_TOKEN", ""), "bearer token for the inventory API (defaults to $FALCON_ACCESS_TOKEN)")
	return cmd
}
