package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/josephlewis42/shellby/core/logger"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var eventLogPath string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Explore the job event log.",
}

var reportCommand = &cobra.Command{
	Use:   "report",
	Short: "Show a report of events.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		fd, err := openEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		var report logger.Report
		if err := logger.ReadJSONLinesLog(fd, report.Update); err != nil {
			return err
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

// catCommand prints the log one event per line
var catCommand = &cobra.Command{
	Use:   "cat",
	Short: "Print every event in the log.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		fd, err := openEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		w := cmd.OutOrStdout()
		return logger.ReadJSONLinesLog(fd, func(le *logger.LogEntry) {
			fmt.Fprintln(w, formatEntry(le))
		})
	},
}

// openEventLog opens --log if given, otherwise the configured event log.
func openEventLog() (io.ReadCloser, error) {
	if eventLogPath != "" {
		return os.Open(eventLogPath)
	}

	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.ReadEventLog()
}

func formatEntry(le *logger.LogEntry) string {
	ts := time.UnixMicro(le.TimestampMicros).UTC().Format(time.RFC3339)
	fields := []string{ts, le.SessionID, string(le.Kind)}
	if le.Pgid != 0 {
		fields = append(fields, fmt.Sprintf("pgid=%d", le.Pgid))
	}
	if le.Name != "" {
		fields = append(fields, fmt.Sprintf("name=%q", le.Name))
	}
	if le.Command != "" {
		fields = append(fields, fmt.Sprintf("command=%q", le.Command))
	}
	if le.Background {
		fields = append(fields, "background")
	}
	if len(le.Statuses) > 0 {
		fields = append(fields, fmt.Sprintf("statuses=%v", le.Statuses))
	}
	if le.Error != "" {
		fields = append(fields, fmt.Sprintf("error=%q", le.Error))
	}
	return strings.Join(fields, " ")
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(reportCommand)
	eventsCmd.AddCommand(catCommand)

	for _, cmd := range []*cobra.Command{reportCommand, catCommand} {
		cmd.Flags().StringVar(&eventLogPath, "log", "", "event log to read instead of the configured one")
	}
}
