package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/journal"
	"github.com/mattjoyce/vessel/internal/storage"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Print the result journal",
	Long:  "Without --session, lists recent sessions. With --session, prints that session's results.",
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().String("session", "", "Session id to print")
	resultsCmd.Flags().Int("limit", 0, "Maximum number of rows (0 means the default)")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := storage.OpenSQLite(cmd.Context(), cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	j := journal.New(db)

	if sessionID == "" {
		sessions, err := j.Sessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	}

	entries, err := j.List(cmd.Context(), sessionID, limit)
	if err != nil {
		return err
	}
	summary, err := j.Summarize(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), sessionID, entries, summary)
	return nil
}

func printSessions(w io.Writer, sessions []journal.Session) {
	fmt.Fprintln(w, styles.Title.Render("sessions"))
	for _, s := range sessions {
		ended := styles.Passed.Render("running")
		if s.EndedAt != nil {
			ended = styles.Dim.Render("ended " + s.EndedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "  %s  %s  %-10s port %-5d %s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.Host, s.Port, ended)
	}
}

func printResults(w io.Writer, sessionID string, entries []journal.Entry, summary journal.Summary) {
	fmt.Fprintln(w, styles.Title.Render("session "+sessionID))
	for _, e := range entries {
		status := styles.Passed.Render("ok  ")
		if !e.Success {
			status = styles.Failed.Render("FAIL")
		}
		target := "Context"
		if e.Instance != nil {
			target = *e.Instance
		}
		line := fmt.Sprintf("  %s %-7s %-28s %-20s %8.1fms", status, e.Command, e.Plugin, target, e.DurationMS)
		if e.Error != nil {
			line += "  " + styles.Failed.Render(*e.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s passed, %s failed\n",
		styles.Passed.Render(fmt.Sprint(summary.Passed)), styles.Failed.Render(fmt.Sprint(summary.Failed)))
}
