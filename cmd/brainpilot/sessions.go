package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mindfly/brainpilot/cmd/brainpilot/app"
	"github.com/mindfly/brainpilot/internal/storage"
)

var sessionsConfigPath string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded flight sessions",
	Long:  "sessions lists every recorded flight in the data directory, with sample and command counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := app.LoadConfig(sessionsConfigPath)
		if err != nil {
			return err
		}

		dir, err := app.DataDirectory(&config.Storage)
		if err != nil {
			return err
		}

		paths, err := filepath.Glob(filepath.Join(dir, "*.sqlite"))
		if err != nil {
			return fmt.Errorf("listing data directory: %w", err)
		}
		if len(paths) == 0 {
			fmt.Printf("no recorded sessions in %s\n", dir)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSENSOR\tDRONE\tSAMPLES\tCOMMANDS\tFILE")

		for _, path := range paths {
			if err = listSessions(cmd.Context(), w, path); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

func listSessions(ctx context.Context, w *tabwriter.Writer, path string) error {
	store := storage.NewSqliteStore(path)
	defer store.Close()

	sessions, err := store.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s (%s)\t%s\t%s\t%s\t%s\n",
			humanize.Time(sess.StartTime),
			sess.SensorType,
			sess.SensorID,
			sess.DroneAddr,
			humanize.Comma(sess.SampleCount),
			humanize.Comma(sess.CommandCount),
			filepath.Base(path),
		)
	}
	return nil
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsConfigPath, "config", "c", "config.yaml", "Path to the configuration file")
}
