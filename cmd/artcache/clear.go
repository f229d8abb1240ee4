package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clearPlaylists bool
	clearKeys      []string
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the artwork caches",
	Long: `Remove cached artwork. Without --key every cache level is emptied.

Examples:
  artcache clear
  artcache clear --key "Blue Train_John Coltrane_album"
  artcache clear --playlists --library ~/Music`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		out := cmd.OutOrStdout()
		if len(clearKeys) > 0 {
			for _, key := range clearKeys {
				a.fetcher.RemoveFromCache(key)
			}
			fmt.Fprintf(out, "Removed %d keys\n", len(clearKeys))
		} else {
			a.fetcher.ClearCaches()
			fmt.Fprintln(out, "Caches cleared")
		}

		if clearPlaylists {
			playlists := a.library.Playlists()
			for _, p := range playlists {
				if err := a.fetcher.DeletePlaylist(ctx, p.ID); err != nil {
					return fmt.Errorf("failed to forget playlist %q: %w", p.Name, err)
				}
			}
			fmt.Fprintf(out, "Forgot artwork of %d playlists\n", len(playlists))
		}
		return a.fetcher.Flush()
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearPlaylists, "playlists", false, "also forget when playlist artwork was computed")
	clearCmd.Flags().StringSliceVar(&clearKeys, "key", nil, "remove only these cache keys")
}
