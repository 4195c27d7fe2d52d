// gwctl is the operator CLI, the regrounded descendant of the teacher's
// cmd/tools/uhnctl: instead of pushing a raw MQTT command, every
// subcommand calls the gatewayd control API over HTTP.
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

var apiAddr string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gwctl",
		Short:         "Operator CLI for the gateway control API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8080", "gatewayd control API base URL")

	cmd.AddCommand(
		newStatusCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newDeleteDeviceCmd(),
	)
	return cmd
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func apiRequest(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, apiAddr+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return httpClient.Do(req)
}

func printResponseBody(resp *http.Response) error {
	defer resp.Body.Close()
	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil // empty body (e.g. 204 No Content) is not an error
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func newStatusCmd() *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show device status (all devices, or one with --device)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/devices/"
			if deviceID != "" {
				path = "/devices/" + deviceID + "/status"
			}
			resp, err := apiRequest(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("status %d: %s", resp.StatusCode, body)
			}
			return printResponseBody(resp)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device_id to show (omit for all devices)")
	return cmd
}

func newEnableCmd() *cobra.Command {
	var clearMetrics bool
	cmd := &cobra.Command{
		Use:   "enable <device_id>",
		Short: "Re-enable a disabled device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiRequest(http.MethodPost, "/devices/"+args[0]+"/enable",
				map[string]any{"clear_metrics": clearMetrics})
			if err != nil {
				return err
			}
			return printResponseBody(resp)
		},
	}
	cmd.Flags().BoolVar(&clearMetrics, "clear-metrics", false, "reset success-rate/latency history on enable")
	return cmd
}

func newDisableCmd() *cobra.Command {
	var detail string
	cmd := &cobra.Command{
		Use:   "disable <device_id>",
		Short: "Manually disable a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiRequest(http.MethodPost, "/devices/"+args[0]+"/disable",
				map[string]any{"reason_detail": detail})
			if err != nil {
				return err
			}
			return printResponseBody(resp)
		},
	}
	cmd.Flags().StringVar(&detail, "detail", "", "free-text reason recorded with the disable")
	return cmd
}

func newDeleteDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-device <device_id>",
		Short: "Remove a device and its registers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiRequest(http.MethodDelete, "/devices/"+args[0]+"/", nil)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("status %d: %s", resp.StatusCode, body)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}
