package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newPropagateCmd() *cobra.Command {
	var (
		mode       string
		updateFile string
		quorum     int
		timeout    string
	)
	cmd := &cobra.Command{
		Use:   "propagate <entry_id>",
		Short: "Propagate an update from entry_id to its propagation targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := map[string]interface{}{}
			if updateFile != "" {
				raw, err := os.ReadFile(updateFile)
				if err != nil {
					return fail(fmt.Errorf("read %s: %w", updateFile, err))
				}
				if err := json.Unmarshal(raw, &update); err != nil {
					return fail(fmt.Errorf("parse %s: %w", updateFile, err))
				}
			}

			req := map[string]interface{}{
				"entry_id": args[0],
				"mode":     mode,
				"update":   update,
				"quorum":   quorum,
				"timeout":  timeout,
			}
			var resp struct {
				SessionID string `json:"session_id"`
			}
			if err := client().do(cmd.Context(), http.MethodPost, "/v1/registry/propagate", req, &resp); err != nil {
				return fail(err)
			}
			fmt.Println(resp.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "IMMEDIATE", "IMMEDIATE, EVENTUAL, CASCADE, or CONSENSUS")
	cmd.Flags().StringVar(&updateFile, "update-file", "", "path to a JSON object to merge into targets")
	cmd.Flags().IntVar(&quorum, "quorum", 1, "required ack count for CONSENSUS mode")
	cmd.Flags().StringVar(&timeout, "timeout", "10s", "deadline for CONSENSUS mode, e.g. 10s")
	return cmd
}
