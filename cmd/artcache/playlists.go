package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eleven/artcache/pkg/types"
)

var playlistsRefresh bool

var playlistsCmd = &cobra.Command{
	Use:   "playlists",
	Short: "List playlists and compute their artwork",
	Long: `List the library's playlists with the state of their cached artwork. With
--refresh, compute each playlist's cover and top-artist image; artwork that is
still current is left alone.

Examples:
  artcache playlists --library ~/Music
  artcache playlists --refresh`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		playlists := a.library.Playlists()
		if playlistsRefresh {
			for _, p := range playlists {
				cover, artist := newSlot(p.Name+" cover"), newSlot(p.Name+" artist")
				if err := a.load(ctx, func() {
					a.fetcher.LoadPlaylistCoverArt(p.ID, cover)
					a.fetcher.LoadPlaylistArtistImage(p.ID, artist)
				}); err != nil {
					return err
				}
			}
			if err := a.settle(ctx); err != nil {
				return err
			}
			if err := a.fetcher.Flush(); err != nil {
				logger.Warn("Failed to flush disk cache", "error", err)
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSONGS\tCOVER\tARTIST")
		for _, p := range playlists {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				p.ID, p.Name, len(p.TrackIDs),
				yesNo(a.fetcher.Cached(types.PlaylistCoverKey(p.ID))),
				yesNo(a.fetcher.Cached(types.PlaylistArtistKey(p.ID))))
		}
		return w.Flush()
	},
}

func init() {
	playlistsCmd.Flags().BoolVar(&playlistsRefresh, "refresh", false, "compute missing or stale playlist artwork")
}

func yesNo(b bool) string {
	if b {
		return "cached"
	}
	return "-"
}
