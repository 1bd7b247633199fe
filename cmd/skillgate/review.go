package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

type ReviewConfig struct {
	Actor  string
	Reason string
}

func NewReviewConfig() *ReviewConfig {
	return &ReviewConfig{}
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending skills",
	Long:  `Show the review queue and approve or reject skills.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show pending skills, riskiest first",
	Run: func(cmd *cobra.Command, _ []string) {
		service, closeService, err := openService(cmd)
		if err != nil {
			presenter.Error(err, "failed to open governance database")
			os.Exit(1)
		}
		defer closeService()

		queue, err := service.PendingReviews(cmd.Context())
		if err != nil {
			presenter.Error(err, "failed to load review queue")
			os.Exit(1)
		}

		if len(queue) == 0 {
			presenter.Info("Review queue is empty")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRISK\tSCORE\tINGESTED")
		for _, skill := range queue {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				skill.ID, skill.Name, skill.RiskLevel, skill.RiskScore,
				skill.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <skill-id>",
	Short: "Approve a skill for installation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runReviewCommand(cmd, args[0], getReviewConfigFromFlags(cmd), true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <skill-id>",
	Short: "Reject a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runReviewCommand(cmd, args[0], getReviewConfigFromFlags(cmd), false)
	},
}

func init() {
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		defaults := NewReviewConfig()
		c.Flags().String("actor", defaults.Actor, "Reviewer recorded in the audit trail (required)")
		c.Flags().String("reason", defaults.Reason, "Review reason recorded in the audit trail")
	}

	reviewCmd.AddCommand(reviewQueueCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
}

func getReviewConfigFromFlags(cmd *cobra.Command) *ReviewConfig {
	config := NewReviewConfig()
	if actor, err := cmd.Flags().GetString("actor"); err == nil {
		config.Actor = actor
	}
	if reason, err := cmd.Flags().GetString("reason"); err == nil {
		config.Reason = reason
	}
	return config
}

func runReviewCommand(cmd *cobra.Command, skillID string, config *ReviewConfig, approve bool) {
	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	if approve {
		skill, err := service.Approve(cmd.Context(), skillID, config.Actor, config.Reason)
		if err != nil {
			presenter.Error(err, "approval failed")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Approved %q", skill.Name))
		if warning, ok := riskWarning(skill.RiskLevel); ok {
			presenter.Warning(warning)
		}
		return
	}

	skill, err := service.Reject(cmd.Context(), skillID, config.Actor, config.Reason)
	if err != nil {
		presenter.Error(err, "rejection failed")
		os.Exit(1)
	}
	presenter.Success(fmt.Sprintf("Rejected %q", skill.Name))
}

// riskWarning returns the warning shown after approving a skill whose
// latest scan still rates it high risk or worse.
func riskWarning(level governance.RiskLevel) (string, bool) {
	switch level {
	case governance.RiskHigh, governance.RiskCritical, governance.RiskBlocked:
		return fmt.Sprintf("Skill is rated %s risk; double-check the scan findings", level), true
	default:
		return "", false
	}
}
