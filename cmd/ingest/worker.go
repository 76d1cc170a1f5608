package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/wire"
)

func newWorkerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume ingestion jobs from NATS",
		Long:  "Run queued ingestion jobs. Failed jobs are retried and then sent to the dead letter subject.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			nc, err := wire.NATS(a.cfg.NATS, "complimo-ingest-worker", a.log)
			if err != nil {
				return err
			}
			if nc == nil {
				return errors.New("worker needs a NATS url (NATS_URL)")
			}
			defer nc.Drain()

			sub, err := ingest.StartConsumer(nc, a.cfg.NATS.Subject, a.svc, a.log, func(res ingest.Result, err error) {
				a.observe(res, err)
			})
			if err != nil {
				return err
			}
			a.serveMetrics(cmd.Context(), opts.metricsAddr)
			a.log.Info("worker consuming", "subject", sub.Subject, "queue", ingest.QueueGroup)

			<-cmd.Context().Done()
			a.log.Info("worker shutting down")
			return sub.Drain()
		},
	}
}
