package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/store"
	"github.com/sells-group/provenance-cli/internal/verification"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage verification and dispute requests",
	Long:  "Open requests, cast votes, expire timed-out requests and inspect their state.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("request")
	},
}

// -- request open --

var requestOpenCmd = &cobra.Command{
	Use:   "open <product-id>",
	Short: "Open a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		kind, _ := cmd.Flags().GetString("kind")
		voters, _ := cmd.Flags().GetStringSlice("voters")
		approve, _ := cmd.Flags().GetInt("approve-threshold")
		reject, _ := cmd.Flags().GetInt("reject-threshold")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		req, err := env.Orchestrator.Open(ctx, verification.OpenParams{
			ProductID:        args[0],
			Kind:             model.RequestKind(kind),
			Eligible:         voters,
			ApproveThreshold: approve,
			RejectThreshold:  reject,
			Timeout:          timeout,
		})
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, req)
	},
}

// -- request show --

var requestShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show a request with its votes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		req, err := env.Orchestrator.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, req)
	},
}

// -- request list --

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		product, _ := cmd.Flags().GetString("product")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		reqs, err := env.Orchestrator.List(ctx, store.RequestFilter{
			ProductID: product,
			State:     model.RequestState(state),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "request list")
		}
		if len(reqs) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}
		formatRequestList(os.Stdout, reqs)
		return nil
	},
}

// -- request vote --

var requestVoteCmd = &cobra.Command{
	Use:   "vote <request-id> <voter> <approve|reject>",
	Short: "Cast a vote on a pending request",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, err := parseVerdict(args[2])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Orchestrator.SubmitVote(ctx, args[0], args[1], approve)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", args[0], state)
		return nil
	},
}

// -- request expire --

var requestExpireCmd = &cobra.Command{
	Use:   "expire <request-id>",
	Short: "Expire a request whose timeout has elapsed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Orchestrator.ResolveExpired(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", args[0], state)
		return nil
	},
}

// -- request sweep --

var requestSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every timed-out pending request",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Orchestrator.SweepExpired(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(os.Stdout, id)
		}
		fmt.Fprintf(os.Stderr, "Expired %d request(s).\n", len(ids))
		return nil
	},
}

func init() {
	requestOpenCmd.Flags().String("kind", string(model.RequestVerification), "request kind: verification or dispute")
	requestOpenCmd.Flags().StringSlice("voters", nil, "eligible voter identities (comma separated)")
	requestOpenCmd.Flags().Int("approve-threshold", 0, "approvals needed (default from config)")
	requestOpenCmd.Flags().Int("reject-threshold", 0, "rejections needed (default from config)")
	requestOpenCmd.Flags().Duration("timeout", 0, "time before the request can be expired (default from config)")
	_ = requestOpenCmd.MarkFlagRequired("voters")

	requestListCmd.Flags().String("product", "", "filter by product id")
	requestListCmd.Flags().String("state", "", "filter by state (pending, approved, rejected, expired)")
	requestListCmd.Flags().Int("limit", 50, "max number of requests to display")

	requestCmd.AddCommand(requestOpenCmd)
	requestCmd.AddCommand(requestShowCmd)
	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestVoteCmd)
	requestCmd.AddCommand(requestExpireCmd)
	requestCmd.AddCommand(requestSweepCmd)
	rootCmd.AddCommand(requestCmd)
}

// parseVerdict accepts approve/yes/true and reject/no/false.
func parseVerdict(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "yes", "true":
		return true, nil
	case "reject", "no", "false":
		return false, nil
	default:
		return false, eris.Errorf("vote: verdict %q must be approve or reject", s)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRequestList writes a tabular list of requests to w.
func formatRequestList(out io.Writer, reqs []*model.VerificationRequest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRODUCT\tKIND\tSTATE\tVOTES\tCREATED\tEXPIRES")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t-----\t-----\t-------\t-------")

	for _, r := range reqs {
		approvals, rejections := r.Tally()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d+/%d-\t%s\t%s\n",
			r.ID,
			r.ProductID,
			r.Kind,
			r.State,
			approvals,
			rejections,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.ExpiresAt().Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}
