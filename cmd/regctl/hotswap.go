package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newHotswapCmd() *cobra.Command {
	var newEntryFile string
	cmd := &cobra.Command{
		Use:   "hotswap <entry_id>",
		Short: "Swap entry_id to a new version with a staged drain and verify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newEntryFile == "" {
				return fail(fmt.Errorf("--new-entry-file is required"))
			}
			raw, err := os.ReadFile(newEntryFile)
			if err != nil {
				return fail(fmt.Errorf("read %s: %w", newEntryFile, err))
			}
			var newEntry entryDTO
			if err := json.Unmarshal(raw, &newEntry); err != nil {
				return fail(fmt.Errorf("parse %s: %w", newEntryFile, err))
			}

			req := map[string]interface{}{
				"entry_id":  args[0],
				"new_entry": newEntry,
			}
			var resp struct {
				TransitionID string `json:"transition_id"`
				Phase        string `json:"phase"`
			}
			if err := client().do(cmd.Context(), http.MethodPost, "/v1/registry/hotswap", req, &resp); err != nil {
				return fail(err)
			}
			fmt.Printf("%s %s\n", resp.TransitionID, resp.Phase)
			return nil
		},
	}
	cmd.Flags().StringVar(&newEntryFile, "new-entry-file", "", "path to a JSON entry body for the new version")
	return cmd
}
