package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listJobs(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs", serverURL))
		}
		jobID := args[0]
		return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a running job on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cancelJob(cmd.OutOrStdout(), serverURL, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, cancelCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
		rootCmd.AddCommand(c)
	}
}

// jobView is the subset of the job status the CLI prints.
type jobView struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	ResumedFrom string    `json:"resumedFrom"`
	BestParams  []float64 `json:"bestParams"`
	BestCost    float64   `json:"bestCost"`
	InitialCost float64   `json:"initialCost"`
	Iterations  int       `json:"iterations"`
	StepSize    float64   `json:"stepSize"`
	Evaluations int64     `json:"evaluations"`
	Elapsed     float64   `json:"elapsed"`
	EPS         float64   `json:"eps"`
	Error       string    `json:"error"`
	Config      struct {
		Function string `json:"function"`
		Dim      int    `json:"dim"`
		Method   string `json:"method"`
		Steps    int    `json:"steps"`
		Pattern  string `json:"pattern"`
		Iters    int    `json:"iters"`
		PopSize  int    `json:"popSize"`
	} `json:"config"`
}

func fetch(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []jobView
	if _, err := fetch(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Function: %s\n", job.Config.Function)
		fmt.Fprintf(out, "  Method: %s\n", job.Config.Method)
		if len(job.BestParams) > 0 {
			fmt.Fprintf(out, "  Cost: %.6g -> %.6g\n", job.InitialCost, job.BestCost)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var job jobView
	if code, err := fetch(url, &job); code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	} else if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "State: %s\n", job.State)
	if job.ResumedFrom != "" {
		fmt.Fprintf(out, "Resumed from: %s\n", job.ResumedFrom)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Function: %s\n", job.Config.Function)
	fmt.Fprintf(out, "  Method: %s\n", job.Config.Method)
	if job.Config.Method != "mayfly" {
		fmt.Fprintf(out, "  Steps: %d\n", job.Config.Steps)
		fmt.Fprintf(out, "  Pattern: %s\n", job.Config.Pattern)
	}
	if job.Config.Method != "pattern" {
		fmt.Fprintf(out, "  Iterations: %d\n", job.Config.Iters)
		fmt.Fprintf(out, "  Population: %d\n", job.Config.PopSize)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Initial Cost: %.6g\n", job.InitialCost)
	if len(job.BestParams) > 0 {
		fmt.Fprintf(out, "  Best Cost: %.6g\n", job.BestCost)
		fmt.Fprintf(out, "  Best Point: %v\n", job.BestParams)
	}
	fmt.Fprintf(out, "  Steps: %d\n", job.Iterations)
	if job.StepSize > 0 {
		fmt.Fprintf(out, "  Step Size: %.6g\n", job.StepSize)
	}
	fmt.Fprintf(out, "  Evaluations: %d\n", job.Evaluations)
	elapsed := time.Duration(job.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if job.EPS > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f evals/sec\n", job.EPS)
	}

	if job.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", job.Error)
	}
	return nil
}

func cancelJob(out io.Writer, baseURL, jobID string) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/jobs/%s", baseURL, jobID), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(out, "Cancellation requested for job %s\n", jobID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found: %s", jobID)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
}
