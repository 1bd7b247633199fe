package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/install"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

type SkillListConfig struct {
	Status    string
	RiskLevel string
	Search    string
	Limit     int
}

func NewSkillListConfig() *SkillListConfig {
	return &SkillListConfig{
		Limit: 50,
	}
}

type SkillInstallConfig struct {
	Actor     string
	Overwrite bool
}

func NewSkillInstallConfig() *SkillInstallConfig {
	return &SkillInstallConfig{}
}

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect and install governed skills",
	Long:  `List governed skills, show a skill's governance record, and install approved skills.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills tracked by the governance database",
	Run: func(cmd *cobra.Command, _ []string) {
		listSkillsCommand(cmd, getSkillListConfigFromFlags(cmd))
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <skill-id>",
	Short: "Show a skill's governance record",
	Long:  `Shows the skill's status, risk, recent scans and tests, and its audit history.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showSkillCommand(cmd, args[0])
	},
}

var skillInstallCmd = &cobra.Command{
	Use:   "install <skill-id> <target-dir>",
	Short: "Install an approved skill into a target directory",
	Long: `Install an approved skill into a target directory. The install is
recorded in the audit trail and refused unless the skill is approved.

Examples:
  skillgate skill install 3f2a... ~/.claude/skills/pdf-extractor --actor alice`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		installSkillCommand(cmd, args[0], args[1], getSkillInstallConfigFromFlags(cmd))
	},
}

func init() {
	listDefaults := NewSkillListConfig()
	skillListCmd.Flags().String("status", listDefaults.Status, "Filter by status (pending, approved, rejected, blocked)")
	skillListCmd.Flags().String("risk-level", listDefaults.RiskLevel, "Filter by risk level (safe, low, medium, high, critical, blocked)")
	skillListCmd.Flags().String("search", listDefaults.Search, "Search in skill names and descriptions")
	skillListCmd.Flags().Int("limit", listDefaults.Limit, "Maximum number of skills to list")

	installDefaults := NewSkillInstallConfig()
	skillInstallCmd.Flags().String("actor", installDefaults.Actor, "Actor recorded in the audit trail")
	skillInstallCmd.Flags().Bool("overwrite", installDefaults.Overwrite, "Overwrite the target directory if it exists")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillInstallCmd)
}

func getSkillListConfigFromFlags(cmd *cobra.Command) *SkillListConfig {
	config := NewSkillListConfig()
	if status, err := cmd.Flags().GetString("status"); err == nil {
		config.Status = status
	}
	if riskLevel, err := cmd.Flags().GetString("risk-level"); err == nil {
		config.RiskLevel = riskLevel
	}
	if search, err := cmd.Flags().GetString("search"); err == nil {
		config.Search = search
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	return config
}

func getSkillInstallConfigFromFlags(cmd *cobra.Command) *SkillInstallConfig {
	config := NewSkillInstallConfig()
	if actor, err := cmd.Flags().GetString("actor"); err == nil {
		config.Actor = actor
	}
	if overwrite, err := cmd.Flags().GetBool("overwrite"); err == nil {
		config.Overwrite = overwrite
	}
	return config
}

func listSkillsCommand(cmd *cobra.Command, config *SkillListConfig) {
	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	page, err := service.ListSkills(cmd.Context(), governance.SkillQuery{
		Status:    governance.Status(config.Status),
		RiskLevel: governance.RiskLevel(config.RiskLevel),
		Search:    config.Search,
		Limit:     config.Limit,
	})
	if err != nil {
		presenter.Error(err, "failed to list skills")
		os.Exit(1)
	}

	if len(page.Skills) == 0 {
		presenter.Info("No skills found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRISK\tSCORE\tUPDATED")
	for _, skill := range page.Skills {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			skill.ID, skill.Name, skill.Status, skill.RiskLevel, skill.RiskScore,
			skill.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Printf("\n%d of %d skills\n", len(page.Skills), page.Total)
}

func showSkillCommand(cmd *cobra.Command, skillID string) {
	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	detail, err := service.GetSkillDetail(cmd.Context(), skillID)
	if err != nil {
		presenter.Error(err, "failed to get skill")
		os.Exit(1)
	}

	skill := detail.Skill
	presenter.Section(skill.Name)
	fmt.Printf("ID:          %s\n", skill.ID)
	fmt.Printf("Status:      %s\n", skill.Status)
	fmt.Printf("Risk:        %s (score %d)\n", skill.RiskLevel, skill.RiskScore)
	if skill.Description != "" {
		fmt.Printf("Description: %s\n", skill.Description)
	}
	fmt.Printf("Version:     %s\n", skill.Version)
	if skill.SourcePath != "" {
		fmt.Printf("Source:      %s\n", skill.SourcePath)
	}
	if skill.ApprovedBy != "" {
		fmt.Printf("Approved by: %s\n", skill.ApprovedBy)
	}
	if skill.InstalledPath != "" {
		fmt.Printf("Installed:   %s\n", skill.InstalledPath)
	}

	if len(detail.Scans) > 0 {
		presenter.Separator()
		presenter.Section("Security scans")
		for _, scan := range detail.Scans {
			fmt.Printf("%s  score %d (%s), %d findings\n",
				scan.ScannedAt.Format("2006-01-02 15:04"), scan.RiskScore, scan.RiskLevel, len(scan.Findings))
		}
	}

	if len(detail.Tests) > 0 {
		presenter.Separator()
		presenter.Section("Equivalence tests")
		for _, test := range detail.Tests {
			verdict := "failed"
			if test.Passed {
				verdict = "passed"
			}
			fmt.Printf("%s  %.2f (%s)\n", test.TestedAt.Format("2006-01-02 15:04"), test.OverallScore, verdict)
		}
	}

	if len(detail.Audit) > 0 {
		presenter.Separator()
		presenter.Section("Audit trail")
		for _, event := range detail.Audit {
			fmt.Printf("%s  %-10s %s\n", event.Timestamp.Format("2006-01-02 15:04"), event.Type, event.Actor)
		}
	}
}

func installSkillCommand(cmd *cobra.Command, skillID, targetDir string, config *SkillInstallConfig) {
	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	skill, err := service.Install(cmd.Context(), skillID, config.Actor, targetDir)
	if err != nil {
		presenter.Error(err, "install refused")
		os.Exit(1)
	}

	if skill.SourcePath == "" {
		presenter.Warning("Skill has no source path on record; install recorded but no files copied")
		return
	}

	copied, err := install.CopySkill(skill.SourcePath, targetDir, install.Options{Overwrite: config.Overwrite})
	if err != nil {
		presenter.Error(err, "failed to copy skill files")
		os.Exit(1)
	}

	presenter.Success(fmt.Sprintf("Installed %q to %s (%d files)", skill.Name, targetDir, copied))
}
