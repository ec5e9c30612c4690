package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mergelab/cmine/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List mined repositories",
	Long:  `List every repository in the store with its mining state and the number of scenarios and conflict sources recorded for it.`,
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	repos, err := c.Store.ListRepos(ctx)
	if err != nil {
		c.Close()
		exitError("failed to list repositories: %v", err)
	}
	if len(repos) == 0 {
		fmt.Println("No repositories mined yet")
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	var totalScenarios, totalSources int
	for _, r := range repos {
		scenarios, err := c.Store.ListMergeScenarios(ctx, r.ID)
		if err != nil {
			c.Close()
			exitError("failed to list scenarios of %s: %v", r.Name, err)
		}
		sources, err := c.Store.ListConflictSources(ctx, r.ID, "")
		if err != nil {
			c.Close()
			exitError("failed to list conflict sources of %s: %v", r.Name, err)
		}
		totalScenarios += len(scenarios)
		totalSources += len(sources)

		state := red
		switch r.Mined {
		case models.StatusDone:
			state = green
		case models.StatusMining:
			state = yellow
		}

		fmt.Printf("%s  ", shortID(r.ID))
		state.Printf("%-7s", r.Mined)
		fmt.Printf("  %-30s %s scenarios, %s conflict sources",
			r.Name, humanize.Comma(int64(len(scenarios))), humanize.Comma(int64(len(sources))))
		if r.Branch != "" {
			fmt.Printf(" (%s)", r.Branch)
		}
		fmt.Println()
	}

	fmt.Printf("\n%s repositories, %s scenarios, %s conflict sources\n",
		humanize.Comma(int64(len(repos))), humanize.Comma(int64(totalScenarios)), humanize.Comma(int64(totalSources)))
}
