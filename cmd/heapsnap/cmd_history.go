// ABOUTME: history and version commands
// ABOUTME: History reads the badger run database written by run and compare

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapsnap"
)

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.HistoryDir == "" {
		return fmt.Errorf("no history directory: set historyDir, HEAPSNAP_HISTORY_DIR or --history-dir")
	}
	st, err := openHistory(cfg.HistoryDir)
	if err != nil {
		return err
	}
	defer st.Close()

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		r, err := st.Get(args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r)
	}

	records, err := st.List(flagHistoryLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tABSTRACTION\tSTATUS\tEVENTS\tCOMPLEXITY\tPRECISION\tTRACE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.3f\t%s\n",
			r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Abstraction, r.Status,
			r.Events, r.Complexity, r.AvgPrecision, r.Trace)
	}
	return tw.Flush()
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Fprintln(cmd.OutOrStdout(), "heapsnap", heapsnap.Version)
}
