package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agentrag/src/core/orchestrator"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().Bool("fast", false, "skip cross-encoder reranking")
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	fast, _ := cmd.Flags().GetBool("fast")
	asJSON, _ := cmd.Flags().GetBool("json")

	p, err := buildPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	resp, err := p.orchestrator.Resolve(cmd.Context(), orchestrator.Request{
		Question: strings.Join(args, " "),
		FastMode: fast,
	})
	if resp == nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(resp); encErr != nil {
			return encErr
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "cache_hit=%t tools=%d sources=%d time=%.2fs trace=%s\n",
		resp.CacheHit, len(resp.ToolTrace), len(resp.Sources), resp.ProcessingTime, resp.TraceID)
	for _, s := range resp.Sources {
		fmt.Fprintf(out, "  - %s\n", s.Label())
	}
	return err
}
