package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mergelab/cmine/internal/gitrepo"
	"github.com/mergelab/cmine/internal/miner"
)

var mineCmd = &cobra.Command{
	Use:   "mine <repo-path>...",
	Short: "Mine merge conflicts of repositories",
	Long: `Mine the merge commits of each repository for conflicting merge scenarios.
Scenarios are walked from HEAD, newest first. Repositories already mined are
skipped; a failed repository is rolled back and can be mined again.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runMine,
}

var (
	mineLimit   int
	mineWorkers int
)

func init() {
	mineCmd.Flags().IntVarP(&mineLimit, "limit", "n", 0, "Maximum scenarios per repository, negative for no limit (default from config)")
	mineCmd.Flags().IntVarP(&mineWorkers, "jobs", "j", 0, "Repositories mined in parallel (default from config)")
}

func runMine(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := initContext(ctx)
	defer c.Close()

	limit := c.Config.Mining.ScenarioLimit
	if cmd.Flags().Changed("limit") {
		limit = mineLimit
	}
	workers := c.Config.Mining.Workers
	if cmd.Flags().Changed("jobs") {
		workers = mineWorkers
	}

	merger := gitrepo.NewCLIMerger(c.Config.Mining.GitBinary)
	m := miner.New(c.Store, merger, c.Logger)

	start := time.Now()
	c.Logger.Info("mining started", "repos", len(args), "limit", limit, "workers", workers)
	err := m.MineRepos(ctx, args, limit, workers)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Mined %d repositories in %s\n", len(args), time.Since(start).Round(time.Millisecond))
}
