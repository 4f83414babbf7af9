// Package main provides regctl, the registry's command-line client.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	addrFlag    string
	tokenFlag   string
	timeoutFlag time.Duration

	exitCodeOverride int
)

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		if exitCodeOverride != 0 {
			os.Exit(exitCodeOverride)
		}
		os.Exit(10)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "regctl",
		Short:         "Command-line client for the universal entry registry",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&addrFlag, "addr", envOr("REGCTL_ADDR", "http://localhost:8090"), "registry API base URL")
	root.PersistentFlags().StringVar(&tokenFlag, "token", os.Getenv("REGCTL_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newAddCmd(),
		newRmCmd(),
		newLsCmd(),
		newSearchCmd(),
		newPropagateCmd(),
		newHotswapCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *apiClient {
	return newClient(addrFlag, tokenFlag, timeoutFlag)
}

func fail(err error) error {
	exitCodeOverride = exitCode(err)
	return fmt.Errorf("%w", err)
}
