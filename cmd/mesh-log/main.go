// Command mesh-log views and analyzes mesh capture log files.
//
// Capture logs are written by mesh-sim with the --capture-log flag, or by
// any program that opens a mesh with a log.FileLogger as capture logger.
//
// Usage:
//
//	mesh-log <command> [flags] <file.mlog>
//
// Examples:
//
//	# View all events
//	mesh-log view run.mlog
//
//	# View only trace events of mesh 1
//	mesh-log view --layer trace --mesh 1 run.mlog
//
//	# Export to CSV
//	mesh-log export --format csv -o run.csv run.mlog
//
//	# Keep the events of trace 3
//	mesh-log filter --trace 3 -o trace3.mlog run.mlog
//
//	# Show statistics
//	mesh-log stats run.mlog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-runtime/mesh-go/cmd/mesh-log/commands"
	"github.com/mesh-runtime/mesh-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:           "mesh-log",
	Short:         "Mesh capture log analyzer",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var viewCmd = &cobra.Command{
	Use:   "view [flags] <file.mlog>",
	Short: "View log file in human-readable format",
	Args:  cobra.ExactArgs(1),
	RunE:  runView,
}

var exportCmd = &cobra.Command{
	Use:   "export [flags] <file.mlog>",
	Short: "Export log file to JSONL or CSV format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		return commands.RunExport(args[0], format, output)
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter [flags] <file.mlog>",
	Short: "Filter log file and write to new file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilter,
}

var statsCmd = &cobra.Command{
	Use:   "stats <file.mlog>",
	Short: "Show statistics about the log file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return commands.RunStats(args[0], cmd.OutOrStdout())
	},
}

func main() {
	viewCmd.Flags().String("layer", "", "filter by layer (mesh, trace, dispatch)")
	viewCmd.Flags().String("category", "", "filter by category (lifecycle, record, upload, replay, error)")
	viewCmd.Flags().Int("mesh", -1, "filter by mesh id")

	exportCmd.Flags().String("format", "jsonl", "output format (jsonl, csv)")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	filterCmd.Flags().StringP("output", "o", "", "output file (required)")
	filterCmd.Flags().String("session", "", "filter by session id")
	filterCmd.Flags().Int("mesh", -1, "filter by mesh id")
	filterCmd.Flags().Int("trace", -1, "filter by trace id")
	filterCmd.Flags().String("time-start", "", "filter by start time (RFC3339)")
	filterCmd.Flags().String("time-end", "", "filter by end time (RFC3339)")
	filterCmd.Flags().String("layer", "", "filter by layer (mesh, trace, dispatch)")
	filterCmd.Flags().String("category", "", "filter by category (lifecycle, record, upload, replay, error)")
	_ = filterCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(viewCmd, exportCmd, filterCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runView(cmd *cobra.Command, args []string) error {
	var filter commands.ViewFilter

	if layer, _ := cmd.Flags().GetString("layer"); layer != "" {
		l, err := commands.ParseLayerFlag(layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if category, _ := cmd.Flags().GetString("category"); category != "" {
		c, err := commands.ParseCategoryFlag(category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}
	if id, ok := optionalID(cmd, "mesh"); ok {
		filter.MeshID = &id
	}

	return commands.RunView(args[0], filter, cmd.OutOrStdout())
}

func runFilter(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	opts := commands.FilterOptions{}
	opts.Output, _ = flags.GetString("output")
	opts.SessionID, _ = flags.GetString("session")
	opts.TimeStart, _ = flags.GetString("time-start")
	opts.TimeEnd, _ = flags.GetString("time-end")
	opts.Layer, _ = flags.GetString("layer")
	opts.Category, _ = flags.GetString("category")
	if id, ok := optionalID(cmd, "mesh"); ok {
		opts.MeshID = &id
	}
	if id, ok := optionalID(cmd, "trace"); ok {
		opts.TraceID = &id
	}

	n, err := commands.RunFilter(args[0], opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, opts.Output)
	return nil
}

// optionalID reads an id flag whose negative default means unset.
func optionalID(cmd *cobra.Command, name string) (uint32, bool) {
	v, err := cmd.Flags().GetInt(name)
	if err != nil || v < 0 {
		return 0, false
	}
	return uint32(v), true
}
