package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

type AuditConfig struct {
	SkillID   string
	EventType string
	Limit     int
	PageToken string
}

func NewAuditConfig() *AuditConfig {
	return &AuditConfig{
		Limit: 50,
	}
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the append-only audit trail, newest events first. Use the page
token printed at the bottom of a page to fetch the next one.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runAuditCommand(cmd, getAuditConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewAuditConfig()
	auditCmd.Flags().String("skill-id", defaults.SkillID, "Filter by skill ID")
	auditCmd.Flags().String("event-type", defaults.EventType, "Filter by event type (create, scan, approve, reject, block, install, update)")
	auditCmd.Flags().Int("limit", defaults.Limit, "Maximum number of events per page")
	auditCmd.Flags().String("page-token", defaults.PageToken, "Page token from a previous query")
}

func getAuditConfigFromFlags(cmd *cobra.Command) *AuditConfig {
	config := NewAuditConfig()
	if skillID, err := cmd.Flags().GetString("skill-id"); err == nil {
		config.SkillID = skillID
	}
	if eventType, err := cmd.Flags().GetString("event-type"); err == nil {
		config.EventType = eventType
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if pageToken, err := cmd.Flags().GetString("page-token"); err == nil {
		config.PageToken = pageToken
	}
	return config
}

func runAuditCommand(cmd *cobra.Command, config *AuditConfig) {
	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	page, err := service.AuditLog(cmd.Context(), governance.AuditQuery{
		SkillID:   config.SkillID,
		EventType: governance.EventType(config.EventType),
		Limit:     config.Limit,
		PageToken: config.PageToken,
	})
	if err != nil {
		presenter.Error(err, "failed to query audit trail")
		os.Exit(1)
	}

	if len(page.Events) == 0 {
		presenter.Info("No audit events found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEVENT\tSKILL\tACTOR")
	for _, event := range page.Events {
		name := event.SkillName
		if name == "" {
			name = event.SkillID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"), event.Type, name, event.Actor)
	}
	w.Flush()

	fmt.Printf("\n%d of %d events\n", len(page.Events), page.Total)
	if page.NextPageToken != "" {
		fmt.Printf("Next page: --page-token %s\n", page.NextPageToken)
	}
}
