package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	warmAlbums  bool
	warmArtists bool
	warmVerbose bool
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Prefetch album and artist artwork for the library",
	Long: `Scan the library and fetch artwork for every album and artist into the
memory and disk caches.

Examples:
  artcache warm --library ~/Music
  artcache warm --artists=false --offline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		start := time.Now()
		var slots []*slot

		if warmAlbums {
			for _, album := range a.library.Albums() {
				s := newSlot(album.Artist + " - " + album.Name)
				if err := a.load(ctx, func() {
					a.fetcher.LoadAlbumImage(album.Artist, album.Name, album.ID, s)
				}); err != nil {
					return err
				}
				slots = append(slots, s)
			}
		}
		if warmArtists {
			for _, artist := range a.library.Artists() {
				s := newSlot(artist)
				if err := a.load(ctx, func() {
					a.fetcher.LoadArtistImage(artist, s)
				}); err != nil {
					return err
				}
				slots = append(slots, s)
			}
		}

		if err := a.settle(ctx); err != nil {
			return err
		}
		if err := a.fetcher.Flush(); err != nil {
			logger.Warn("Failed to flush disk cache", "error", err)
		}

		var t tally
		t.add(slots...)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Warmed %d of %d images (%s decoded) in %s\n",
			t.found, len(slots), humanize.IBytes(uint64(t.bytes)), time.Since(start).Round(time.Millisecond))
		if warmVerbose {
			for _, label := range t.missing {
				fmt.Fprintf(out, "  no artwork: %s\n", label)
			}
		}
		return nil
	},
}

func init() {
	warmCmd.Flags().BoolVar(&warmAlbums, "albums", true, "fetch album covers")
	warmCmd.Flags().BoolVar(&warmArtists, "artists", true, "fetch artist images")
	warmCmd.Flags().BoolVarP(&warmVerbose, "verbose", "v", false, "list items without artwork")
}

// load issues one request on the dispatcher, first waiting for room in the
// worker queue so requests are not rejected
func (a *app) load(ctx context.Context, fn func()) error {
	if err := a.waitIdle(ctx, a.cfg.Fetcher.QueueSize/2); err != nil {
		return err
	}
	a.run(fn)
	return nil
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
}
