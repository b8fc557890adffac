package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nikhilk147/RepoScan/internal/jobs"
)

var (
	jobsFormat string
	jobsLimit  int
	jobsStatus string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis jobs",
	Long: `List recent analysis jobs and check individual runs.

Examples:
  reposcan jobs list
  reposcan jobs list --status=failed
  reposcan jobs status alice:42`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analysis jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get status of a job",
	Long: `Get the status of a specific run, or the latest run for a
user:session job id.

Examples:
  reposcan jobs status alice:42
  reposcan jobs status 2f1c9be4-90f5-4f59-a7d1-0f3e2c3d5a10`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsStatus,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsFormat, "format", "human", "Output format (json, human)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to return")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, completed, failed)")

	jobsStatusCmd.Flags().StringVar(&jobsFormat, "format", "human", "Output format (json, human)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := daemonClient(cfg).Jobs(jobsStatus, jobsLimit)
	if err != nil {
		return err
	}

	if jobsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-20s %-10s %-20s %s\n", "RUN", "JOB", "STATUS", "CREATED", "REPO")
	for _, job := range resp.Jobs {
		fmt.Printf("%-38s %-20s %-10s %-20s %s\n",
			job.RunID, job.JobID, job.Status,
			job.CreatedAt.Local().Format(time.DateTime), job.RepoURL)
	}
	fmt.Printf("\n%d of %d jobs\n", len(resp.Jobs), resp.TotalCount)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	job, err := daemonClient(cfg).Job(args[0])
	if err != nil {
		return err
	}

	if jobsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	printJob(job)
	return nil
}

func printJob(job *jobs.Job) {
	fmt.Printf("Run:     %s\n", job.RunID)
	fmt.Printf("Job:     %s\n", job.JobID)
	fmt.Printf("Repo:    %s\n", job.RepoURL)
	fmt.Printf("Status:  %s\n", job.Status)
	fmt.Printf("Created: %s\n", job.CreatedAt.Local().Format(time.DateTime))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Local().Format(time.DateTime))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Ended:   %s\n", job.CompletedAt.Local().Format(time.DateTime))
		fmt.Printf("Took:    %s\n", job.Duration().Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Printf("Error:   %s\n", job.Error)
	}
}
