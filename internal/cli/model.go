package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelRegisterCmd)
	modelCmd.AddCommand(modelRequestCmd)

	modelCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "address of a running band serve instance")
	modelRequestCmd.Flags().Int64("model-id", 0, "model id returned by model register")
	modelRequestCmd.Flags().Int64("slo-us", 0, "SLO deadline in microseconds (0 = none)")
	modelRequestCmd.Flags().Int64("target-worker", -1, "pin the request to a worker id (-1 = let the scheduler choose)")
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manually register models and submit requests against a running band instance",
}

var modelRegisterCmd = &cobra.Command{
	Use:   "register PATH",
	Short: "Register a model file with a running band instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelRegister,
}

func runModelRegister(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	body, err := json.Marshal(map[string]string{"path": args[0]})
	if err != nil {
		return err
	}
	resp, err := http.Post(server+"/v1/models", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("band: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

var modelRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Submit a single synchronous inference request without input tensors (input handle 0)",
	RunE:  runModelRequest,
}

func runModelRequest(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	modelID, _ := cmd.Flags().GetInt64("model-id")
	sloUs, _ := cmd.Flags().GetInt64("slo-us")
	targetWorker, _ := cmd.Flags().GetInt64("target-worker")

	payload := map[string]any{
		"model_id": modelID,
		"slo_us":   sloUs,
	}
	if targetWorker != -1 {
		payload["target_worker_id"] = targetWorker
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(server+"/v1/infer", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("band: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("band: server returned %s: %s", resp.Status, data)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
