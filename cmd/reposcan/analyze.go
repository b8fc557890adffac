package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Nikhilk147/RepoScan/internal/daemon"
)

var (
	analyzeUser    string
	analyzeSession int64
	analyzeTitle   string
	analyzeToken   string
	analyzeCommit  string
	analyzeUpdate  bool
	analyzeFormat  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repo-url>",
	Short: "Analyze a GitHub repository",
	Long: `Submit a repository for analysis and wait for the result.

The daemon must be running. The command blocks until the analysis finishes,
the wait times out, or the queue rejects the submission.

Examples:
  reposcan analyze https://github.com/acme/widget --user alice
  reposcan analyze https://github.com/acme/widget --user alice --session 42 --update
  reposcan analyze https://github.com/acme/widget --user alice --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeUser, "user", "", "User id submitting the analysis (required)")
	analyzeCmd.Flags().Int64Var(&analyzeSession, "session", 0, "Existing session id (omit to create one)")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Title for a newly created session")
	analyzeCmd.Flags().StringVar(&analyzeToken, "token", "", "GitHub token for private repositories")
	analyzeCmd.Flags().StringVar(&analyzeCommit, "commit", "", "Analyze a specific commit instead of the branch head")
	analyzeCmd.Flags().BoolVar(&analyzeUpdate, "update", false, "Re-analyze an already indexed repository")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "human", "Output format (json, human)")
	_ = analyzeCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := daemonClient(cfg).Analyze(daemon.AnalyzeRequest{
		URL:         args[0],
		UserID:      analyzeUser,
		SessionID:   analyzeSession,
		Title:       analyzeTitle,
		GitHubToken: analyzeToken,
		CommitID:    analyzeCommit,
		IsUpdate:    analyzeUpdate,
	})
	if err != nil {
		return err
	}

	if analyzeFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("Analysis %s\n", resp.Status)
	fmt.Printf("Session: %d\n", resp.SessionID)
	fmt.Printf("Job: %s\n", resp.JobID)
	if resp.GraphData != nil {
		fmt.Printf("Graph: %d nodes, %d links\n", len(resp.GraphData.Nodes), len(resp.GraphData.Links))
	}
	return nil
}
