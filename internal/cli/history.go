package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snowballrss/internal/config"
	"snowballrss/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently delivered posts",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of deliveries to show, 0 for all")
	rootCmd.AddCommand(historyCmd)
}

func historyAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configDir, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is not set, delivery history is disabled")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)

	repo, err := storage.NewBadgerRepository(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	deliveries, err := repo.ListDeliveries(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deliveries yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DELIVERED\tCHANNEL\tATTEMPTS\tLINK\tTITLE")
	for _, d := range deliveries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			d.DeliveredAt.Local().Format(time.DateTime), d.Channel, d.Attempts, d.Link, d.Title)
	}
	return w.Flush()
}
