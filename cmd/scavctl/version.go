package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/internal/format"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOut {
			return printJSON(map[string]any{
				"version":     version,
				"commit":      commit,
				"built":       date,
				"go":          runtime.Version(),
				"tagged_size": format.TaggedSize,
				"page_size":   format.PageSize,
			})
		}
		printInfo("scavctl %s\n", version)
		printInfo("  commit: %s\n", commit)
		printInfo("  built: %s\n", date)
		printInfo("  go: %s, %d-byte words, %d KiB pages\n", runtime.Version(), format.TaggedSize, format.PageSize>>10)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
