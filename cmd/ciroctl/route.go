package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/ciro-tutor/internal/app/bootstrap"
	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/routing"
)

// routeResult is what `ciroctl route` prints: the classifier's view and the
// decision a fresh session would take, without invoking any handler.
type routeResult struct {
	Candidates []routing.Candidate `json:"candidates"`
	Rule       string              `json:"rule"`
	Handlers   []string            `json:"handlers,omitempty"`
	Clarify    bool                `json:"clarify,omitempty"`
	Offered    []string            `json:"offered,omitempty"`
	Urgent     bool                `json:"urgent,omitempty"`
	Plan       []routing.PlanEntry `json:"plan,omitempty"`
}

func routeCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Show how a first message would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := flags.load()
			client := llm.Client(llm.NewStubClient())
			if cfg.ClassifierMode == "llm" {
				var err error
				if client, err = bootstrap.BuildLLMClient(cmd.Context(), cfg, nil, logger); err != nil {
					return err
				}
			}
			reg, routingCfg, err := bootstrap.BuildRegistry(cfg, client, logger)
			if err != nil {
				return err
			}
			classifier, err := bootstrap.BuildClassifier(cfg, client, reg, routingCfg, logger)
			if err != nil {
				return err
			}

			message := strings.Join(args, " ")
			cands := classifier.Classify(cmd.Context(), message, nil)
			d := routing.NewResolver(reg, routingCfg).Resolve(routing.Input{
				Message:    message,
				Candidates: cands,
				State:      routing.State{TurnIndex: 1},
			})
			res := routeResult{
				Candidates: cands,
				Rule:       d.Rule,
				Handlers:   d.Handlers,
				Clarify:    d.Clarify,
				Offered:    d.Offered,
				Urgent:     d.Urgent,
			}
			if !d.Clarify {
				res.Plan = routing.NewComposer(reg, routingCfg).Plan(d, message, cands, nil).Entries
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			for _, c := range res.Candidates {
				fmt.Fprintf(out, "%-16s %.2f  %s\n", c.Handler, c.Confidence, c.Rationale)
			}
			fmt.Fprintf(out, "rule: %s\n", res.Rule)
			if res.Clarify {
				fmt.Fprintf(out, "clarify between: %s\n", strings.Join(res.Offered, ", "))
				return nil
			}
			for _, p := range res.Plan {
				fmt.Fprintf(out, "-> %s: %s\n", p.Handler, p.Subquery)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
