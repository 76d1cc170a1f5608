package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/wire"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		stateFile string
		settle    time.Duration
		async     bool
	)
	cmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Ingest PDFs as they are dropped into a directory",
		Long: "Watch a drop directory (default: the configured upload dir) and ingest each new or " +
			"rewritten PDF once it stops changing. With --async the files are queued on NATS for workers.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dir := a.cfg.UploadDir
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if stateFile == "" {
				stateFile = filepath.Join(dir, ".ingest-state.json")
			}
			state, err := ingest.LoadState(stateFile)
			if err != nil {
				return err
			}

			handle := func(ctx context.Context, job ingest.Job) error {
				res, err := a.svc.Ingest(ctx, job)
				a.observe(res, err)
				if err != nil {
					return err
				}
				return a.emit(lineOf(res, nil))
			}
			if async {
				nc, err := wire.NATS(a.cfg.NATS, "complimo-ingest-watch", a.log)
				if err != nil {
					return err
				}
				if nc == nil {
					return errors.New("--async needs a NATS url")
				}
				defer nc.Drain()
				handle = func(ctx context.Context, job ingest.Job) error {
					id, err := ingest.Submit(ctx, nc, a.cfg.NATS.Subject, job)
					if err != nil {
						return fmt.Errorf("queue %s: %w", job.Path, err)
					}
					return a.emit(map[string]string{"queued": job.Path, "ingestion_id": id})
				}
			}

			a.serveMetrics(cmd.Context(), opts.metricsAddr)
			w := &ingest.Watcher{
				Dir:        dir,
				Collection: a.collection,
				Policy:     a.policy,
				Settle:     settle,
				State:      state,
				Handle:     handle,
				Logger:     a.log,
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&stateFile, "state", "", "processed-files state (default: DIR/.ingest-state.json)")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "quiet period after the last write before ingesting")
	cmd.Flags().BoolVar(&async, "async", false, "queue files on NATS instead of ingesting in-process")
	return cmd
}
