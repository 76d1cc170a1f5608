package main

import (
	"github.com/spf13/cobra"

	"github.com/complimo/complimo/engine/ingest"
)

func newFileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "file PATH...",
		Short: "Ingest one or more PDF files",
		Long:  "Ingest PDF files synchronously. All files share one ingestion id. Metadata is derived from each filename.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id := ingest.NewIngestionID()
			failed := 0
			for _, path := range args {
				res, err := a.svc.Ingest(cmd.Context(), ingest.Job{
					IngestionID: id,
					Path:        path,
					Collection:  a.collection,
					Metadata:    ingest.MetadataFromFilename(path),
					Policy:      a.policy,
				})
				a.observe(res, err)
				if err != nil {
					failed++
					res.Path = path
				}
				if err := a.emit(lineOf(res, err)); err != nil {
					return err
				}
			}
			return failures(failed)
		},
	}
}

func newFolderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "folder DIR",
		Short: "Ingest every PDF under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes, err := a.svc.IngestFolder(cmd.Context(), args[0], a.collection, a.policy)
			if err != nil {
				return err
			}
			failed := 0
			for _, o := range outcomes {
				a.observe(o.Result, o.Err)
				if o.Err != nil {
					failed++
				}
				if err := a.emit(lineOf(o.Result, o.Err)); err != nil {
					return err
				}
			}
			return failures(failed)
		},
	}
}

func newClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the collection and all its chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Clear(cmd.Context(), a.collection); err != nil {
				return err
			}
			return a.emit(map[string]string{"cleared": a.collection})
		},
	}
}
