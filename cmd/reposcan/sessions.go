package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a chat session",
	Long: `Delete a chat session.

Deleting the last session of a repository also removes the repository's
graph, its code chunks, and its metadata.

Examples:
  reposcan sessions delete 42`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := daemonClient(cfg).DeleteSession(sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %d deleted\n", resp.SessionID)
	if resp.RepositoryGone {
		fmt.Println("Repository data removed (last session)")
	}
	return nil
}
