package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		namespace string
		category  string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search entries by name/namespace substring and filters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			req := map[string]interface{}{
				"query": query,
				"limit": limit,
				"filters": map[string]interface{}{
					"namespace": namespace,
					"category":  category,
				},
			}
			var resp struct {
				Hits  []entryDTO `json:"hits"`
				Total int        `json:"total"`
			}
			if err := client().do(cmd.Context(), http.MethodPost, "/v1/registry/search", req, &resp); err != nil {
				return fail(err)
			}
			printEntries(resp.Hits)
			fmt.Printf("%d total\n", resp.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "filter by namespace")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}
