package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type entryDTO struct {
	ID        string                 `json:"id"`
	Namespace string                 `json:"namespace"`
	Name      string                 `json:"name"`
	Version   string                 `json:"version"`
	Category  string                 `json:"category"`
	TenantID  string                 `json:"tenant_id"`
	Status    string                 `json:"status"`
	Data      map[string]interface{} `json:"data"`
}

func newAddCmd() *cobra.Command {
	var (
		namespace string
		name      string
		version   string
		category  string
		file      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := entryDTO{Namespace: namespace, Name: name, Version: version, Category: category}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fail(fmt.Errorf("read %s: %w", file, err))
				}
				if err := json.Unmarshal(raw, &entry); err != nil {
					return fail(fmt.Errorf("parse %s: %w", file, err))
				}
			}

			var resp struct {
				ID string `json:"id"`
			}
			if err := client().do(cmd.Context(), http.MethodPost, "/v1/registry/entries", entry, &resp); err != nil {
				return fail(err)
			}
			fmt.Println(resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "entry namespace")
	cmd.Flags().StringVar(&name, "name", "", "entry name")
	cmd.Flags().StringVar(&version, "version", "", "entry version")
	cmd.Flags().StringVar(&category, "category", "", "entry category")
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON entry body, overlaid onto the flag values")
	return cmd
}

func newRmCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <entry_id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/registry/entries/" + args[0]
			if force {
				path += "?force=true"
			}
			if err := client().do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
				return fail(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even if dependents exist")
	return cmd
}

func newLsCmd() *cobra.Command {
	var (
		namespace string
		category  string
		status    string
		tenant    string
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/registry/entries?namespace=" + namespace + "&type=" + category + "&status=" + status + "&tenant_id=" + tenant
			var entries []entryDTO
			if err := client().do(cmd.Context(), http.MethodGet, path, nil, &entries); err != nil {
				return fail(err)
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "filter by namespace")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant id")
	return cmd
}

func printEntries(entries []entryDTO) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAMESPACE\tNAME\tVERSION\tCATEGORY\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Namespace, e.Name, e.Version, e.Category, e.Status)
	}
	_ = w.Flush()
}
