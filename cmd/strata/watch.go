package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/spf13/cobra"

	"github.com/aretw0/strata/pkg/adapters/fswatch"
	storelifecycle "github.com/aretw0/strata/pkg/adapters/lifecycle"
)

var watchPattern string

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Feed a store from a directory of JSON:API documents",
	Long: `Watch observes a directory tree, pushes every changed document into a
store and prints the resulting change feed until interrupted. The watcher
runs under a supervisor and restarts on failure.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]

		st, err := buildStore()
		if err != nil {
			fatal("Error building store", err)
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		feed, err := st.Watch(ctx)
		if err != nil {
			fatal("Error opening change feed", err)
		}

		spec := supervisor.Spec{
			Name: "fswatch",
			Type: string(worker.TypeGoroutine),
			Factory: func() (worker.Worker, error) {
				w, err := fswatch.NewWorker(st, fswatch.Config{
					Dir:     dir,
					Pattern: watchPattern,
				})
				if err != nil {
					return nil, err
				}
				if err := w.Sync(ctx); err != nil {
					return nil, err
				}
				return w, nil
			},
			Backoff: supervisor.Backoff{
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2,
				ResetDuration:   30 * time.Second,
			},
			RestartPolicy: supervisor.RestartOnFailure,
		}

		sup := supervisor.New("strata-watch", supervisor.StrategyOneForOne, spec)
		if err := sup.Start(ctx); err != nil {
			fatal("Error starting watcher", err)
		}

		// The change feed rides the generic lifecycle event plane, same as
		// any other supervised source.
		source := storelifecycle.NewSource(feed)
		if err := source.Start(ctx); err != nil {
			fatal("Error starting event source", err)
		}
		for event := range source.Events() {
			fmt.Println(event.String())
		}

		stopCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			fatal("Error stopping watcher", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "**/*.json", "Document file pattern (doublestar syntax)")
}
