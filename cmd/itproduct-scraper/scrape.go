package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/orchestrator"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

var scrapeSources []string

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run a single ingestion and exit",
	Long: `Run one ingestion over the enabled sources, or the ones named with
--source, print a per-source summary and exit. The exit code is non-zero
when the run failed.`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringSliceVar(&scrapeSources, "source", nil,
		"Limit the run to these sources (comma-separated or repeated flag)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}

	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("Failed to shut down cleanly")
		}
	}()

	sub, unsubscribe := a.publisher.Subscribe(cfg.Global.EventBuffer)
	defer unsubscribe()

	go logSourceCompletions(sub)

	runID, err := a.orchestrator.TriggerRun(ctx, orchestrator.RunRequest{
		Sources: scrapeSources,
		Trigger: store.TriggerCLI,
	})
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	done, err := a.orchestrator.Done(ctx, runID)
	if err != nil {
		return fmt.Errorf("waiting for run: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	select {
	case <-done:
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Cancelling run")

		if err := a.orchestrator.CancelRun(runID); err != nil {
			log.WithError(err).Warn("Failed to cancel run")
		}

		<-done
	}

	run, err := a.orchestrator.GetStatus(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	printSummary(run)

	if run.Status == store.RunFailed {
		return fmt.Errorf("run %s failed", run.ID)
	}

	return nil
}

func logSourceCompletions(sub *progress.Subscription) {
	for ev := range sub.C {
		if ev.Type != progress.EventSourceCompleted {
			continue
		}

		entry := log.WithFields(logrus.Fields{
			"source": ev.Source,
			"status": ev.Status,
		})

		if ev.ProgressCounts != nil {
			entry = entry.WithField("found", ev.ProgressCounts.Found)
		}

		entry.Info("Source finished")
	}
}

func printSummary(run *store.RunRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Run %s: %s", run.ID, run.Status)

	if run.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tFOUND\tNEW\tUPDATED\tUNCHANGED\tREJECTED\tDURATION\tERROR")

	for _, src := range run.Sources {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			src.Source, src.Status,
			src.Found, src.New, src.Updated, src.Unchanged, src.Rejected,
			sourceDuration(src), src.Error,
		)
	}

	_ = w.Flush()
}

func sourceDuration(src store.RunSource) string {
	if src.StartedAt == nil || src.EndedAt == nil {
		return "-"
	}

	d := src.EndedAt.Sub(*src.StartedAt)
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return units.HumanDuration(d)
}
