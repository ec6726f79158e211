package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/episim/datarecording"
	"github.com/sarchlab/episim/results"
)

type channelsOptions struct {
	dbPath string
	runID  string
}

func newChannelsCommand() *cobra.Command {
	opts := &channelsOptions{}

	channelsCmd := &cobra.Command{
		Use:   "channels [name...]",
		Short: "List result channels, or print recorded ones",
		Long: `Without --db, lists every result channel and its kind. With --db, ` +
			`prints the named channels (all of them by default) of a recorded ` +
			`run, the last run in the database unless --run is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				return listChannels(cmd)
			}

			return printRecordedChannels(cmd, opts, args)
		},
	}

	channelsCmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite file written by run --output")
	channelsCmd.Flags().StringVar(&opts.runID, "run", "", "run id to print")

	return channelsCmd
}

func listChannels(cmd *cobra.Command) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tKIND")

	for _, name := range results.ChannelNames() {
		kind, _ := results.KindOf(name)
		fmt.Fprintf(w, "%s\t%s\n", name, kind)
	}

	return w.Flush()
}

func printRecordedChannels(cmd *cobra.Command, opts *channelsOptions, names []string) error {
	ctx := context.Background()

	reader, err := datarecording.NewReader(opts.dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	runID := opts.runID
	if runID == "" {
		runs, err := datarecording.ListRuns(ctx, reader)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			return errors.New("no runs recorded in " + opts.dbPath)
		}

		runID = runs[len(runs)-1]
	}

	if len(names) == 0 {
		names = results.ChannelNames()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", runID)

	for _, name := range names {
		values, err := datarecording.LoadChannel(ctx, reader, runID, name)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s: %s\n", name, joinInts(values))
	}

	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}

	return strings.Join(parts, " ")
}
