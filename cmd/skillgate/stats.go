package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show governance statistics",
	Long:  `Shows the dashboard overview: lifecycle counts, risk distribution, and top findings.`,
	Run: func(cmd *cobra.Command, _ []string) {
		service, closeService, err := openService(cmd)
		if err != nil {
			presenter.Error(err, "failed to open governance database")
			os.Exit(1)
		}
		defer closeService()

		ctx := cmd.Context()

		stats, err := service.Overview(ctx)
		if err != nil {
			presenter.Error(err, "failed to load statistics")
			os.Exit(1)
		}

		presenter.Section("Overview")
		fmt.Printf("Total skills:   %d\n", stats.TotalSkills)
		fmt.Printf("Pending:        %d\n", stats.PendingCount)
		fmt.Printf("Approved:       %d\n", stats.ApprovedCount)
		fmt.Printf("Rejected:       %d\n", stats.RejectedCount)
		fmt.Printf("Blocked:        %d\n", stats.BlockedCount)
		fmt.Printf("High risk:      %d\n", stats.HighRiskCount)
		fmt.Printf("Scans recorded: %d\n", stats.TotalScans)
		fmt.Printf("Tests recorded: %d\n", stats.TotalTests)
		fmt.Printf("Audit events:   %d\n", stats.TotalAuditEvents)
		if stats.TotalTests > 0 {
			fmt.Printf("Avg equivalence score: %.2f\n", stats.AvgEquivalenceScore)
		}

		risk, err := service.RiskBreakdown(ctx)
		if err != nil {
			presenter.Error(err, "failed to load risk breakdown")
			os.Exit(1)
		}
		if len(risk) > 0 {
			presenter.Separator()
			presenter.Section("Risk distribution")
			for _, level := range []string{"safe", "low", "medium", "high", "critical", "blocked"} {
				if count, ok := risk[governance.RiskLevel(level)]; ok {
					fmt.Printf("%-9s %d\n", level, count)
				}
			}
		}

		findings, err := service.FindingsByRule(ctx)
		if err != nil {
			presenter.Error(err, "failed to load findings breakdown")
			os.Exit(1)
		}
		if len(findings) > 0 {
			presenter.Separator()
			presenter.Section("Top findings")
			for _, rc := range findings {
				fmt.Printf("%-8s %-40s %s x%d\n", rc.RuleID, rc.RuleName, rc.Severity, rc.Count)
			}
		}
	},
}
