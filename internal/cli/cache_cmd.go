package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabb/almabatch/internal/cache"
	"github.com/cabb/almabatch/internal/config"
)

// newCacheCmd creates the cache command group for the record document cache.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Record cache maintenance"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show the number and size of cached records",
			RunE: func(cmd *cobra.Command, _ []string) error {
				fc, err := openCache(config.GetGlobalConfig())
				if err != nil {
					return err
				}
				count, err := fc.Count()
				if err != nil {
					return err
				}
				size, err := fc.Size()
				if err != nil {
					return err
				}
				enabled := "disabled"
				if config.GetGlobalConfig().Cache.Enabled {
					enabled = "enabled"
				}
				cmd.Printf("Directory: %s (%s)\n", fc.GetDirectory(), enabled)
				cmd.Printf("Entries:   %d\n", count)
				cmd.Printf("Size:      %s\n", formatBytes(size))
				cmd.Printf("TTL:       %s\n", cache.FormatDuration(time.Duration(fc.GetTTL())*time.Second))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached record",
			RunE: func(cmd *cobra.Command, _ []string) error {
				fc, err := openCache(config.GetGlobalConfig())
				if err != nil {
					return err
				}
				n, err := fc.Clear()
				if err != nil {
					return err
				}
				cmd.Printf("Removed %d entries\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Remove expired cached records",
			RunE: func(cmd *cobra.Command, _ []string) error {
				fc, err := openCache(config.GetGlobalConfig())
				if err != nil {
					return err
				}
				n, err := fc.CleanupExpired()
				if err != nil {
					return err
				}
				cmd.Printf("Removed %d expired entries\n", n)
				return nil
			},
		},
	)
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
