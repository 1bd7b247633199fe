package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skillmeta"
)

type IngestConfig struct {
	Actor string
}

func NewIngestConfig() *IngestConfig {
	return &IngestConfig{
		Actor: "",
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest a skill directory into the governance database",
	Long: `Ingest a skill directory into the governance database. The directory
must contain a SKILL.md with name and description frontmatter. The skill
enters the lifecycle as pending and waits for a security scan and review.

Examples:
  skillgate ingest ./skills/pdf-extractor
  skillgate ingest ./skills/pdf-extractor --actor alice`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getIngestConfigFromFlags(cmd)
		runIngestCommand(cmd, args[0], config)
	},
}

func init() {
	defaults := NewIngestConfig()
	ingestCmd.Flags().String("actor", defaults.Actor, "Actor recorded in the audit trail")
}

func getIngestConfigFromFlags(cmd *cobra.Command) *IngestConfig {
	config := NewIngestConfig()
	if actor, err := cmd.Flags().GetString("actor"); err == nil {
		config.Actor = actor
	}
	return config
}

func runIngestCommand(cmd *cobra.Command, dir string, config *IngestConfig) {
	parsed, err := skillmeta.Load(dir)
	if err != nil {
		presenter.Error(err, "failed to parse skill directory")
		os.Exit(1)
	}

	service, closeService, err := openService(cmd)
	if err != nil {
		presenter.Error(err, "failed to open governance database")
		os.Exit(1)
	}
	defer closeService()

	skill, err := service.Ingest(cmd.Context(), parsed.Metadata, config.Actor)
	if err != nil {
		presenter.Error(err, "failed to ingest skill")
		os.Exit(1)
	}

	presenter.Success(fmt.Sprintf("Ingested skill %q (id %s, status %s)", skill.Name, skill.ID, skill.Status))
}
