package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	apiKey        string
	userID        string
	problemID     string
	includeHidden bool
)

func main() {
	root := &cobra.Command{
		Use:   "judge-cli",
		Short: "CLI client for the SQL judge",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("JUDGE_API_KEY"), "API key")
	root.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("JUDGE_USER"), "User ID")

	// Submit for grading
	submitCmd := &cobra.Command{
		Use:   "submit [sql]",
		Short: "Submit SQL for asynchronous grading",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVarP(&problemID, "problem", "p", "", "Problem ID")
	root.AddCommand(submitCmd)

	// Submit from file
	submitFileCmd := &cobra.Command{
		Use:   "submit-file [file]",
		Short: "Submit SQL from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmitFile,
	}
	submitFileCmd.Flags().StringVarP(&problemID, "problem", "p", "", "Problem ID")
	root.AddCommand(submitFileCmd)

	// Poll a job
	root.AddCommand(&cobra.Command{
		Use:   "poll [job-id]",
		Short: "Check the status of a submitted job",
		Args:  cobra.ExactArgs(1),
		RunE:  runPoll,
	})

	// Practice mode
	testCmd := &cobra.Command{
		Use:   "test [sql]",
		Short: "Grade SQL synchronously without recording a submission",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTest,
	}
	testCmd.Flags().StringVarP(&problemID, "problem", "p", "", "Problem ID")
	testCmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "Show hidden test case details")
	root.AddCommand(testCmd)

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func readSQL(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runSubmit(_ *cobra.Command, args []string) error {
	sqlText, err := readSQL(args)
	if err != nil {
		return err
	}
	return postAndPrint("/submissions", map[string]any{
		"user_id":    userID,
		"problem_id": problemID,
		"sql":        sqlText,
	})
}

func runSubmitFile(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return postAndPrint("/submissions", map[string]any{
		"user_id":    userID,
		"problem_id": problemID,
		"sql":        string(data),
	})
}

func runTest(_ *cobra.Command, args []string) error {
	sqlText, err := readSQL(args)
	if err != nil {
		return err
	}
	return postAndPrint("/test", map[string]any{
		"user_id":        userID,
		"problem_id":     problemID,
		"sql":            sqlText,
		"include_hidden": includeHidden,
	})
}

func runPoll(_ *cobra.Command, args []string) error {
	req, err := http.NewRequest("GET", serverURL+"/submissions/"+args[0], nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", userID)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printJSON(resp.Body)
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	return printJSON(resp.Body)
}

func postAndPrint(path string, payload map[string]any) error {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 70 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printJSON(resp.Body)
}

func printJSON(r io.Reader) error {
	var result any
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
