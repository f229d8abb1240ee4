package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/pkg/types"
)

var statsJSON bool

type statsReport struct {
	Library struct {
		Tracks    int `json:"tracks"`
		Albums    int `json:"albums"`
		Artists   int `json:"artists"`
		Playlists int `json:"playlists"`
	} `json:"library"`
	Memory    types.CacheStats `json:"memory"`
	Disk      types.CacheStats `json:"disk"`
	Negative  int              `json:"negative_entries"`
	Fetch     types.FetchStats `json:"fetch"`
	Providers []string         `json:"providers"`
	Circuits  []circuit.Stats  `json:"circuits,omitempty"`
	Offline   bool             `json:"offline"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and library statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		var r statsReport
		r.Library.Tracks = len(a.library.Tracks())
		r.Library.Albums = len(a.library.Albums())
		r.Library.Artists = len(a.library.Artists())
		r.Library.Playlists = len(a.library.Playlists())
		r.Memory = a.fetcher.MemoryStats()
		r.Disk = a.fetcher.DiskStats()
		r.Negative = a.fetcher.NegativeEntries()
		r.Fetch = a.fetcher.Stats()
		r.Providers = a.cfg.Remote.Providers
		r.Circuits = a.gate.Stats()
		r.Offline = a.gate.Offline()

		out := cmd.OutOrStdout()
		if statsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}

		fmt.Fprintf(out, "Library:   %d tracks, %d albums, %d artists, %d playlists\n",
			r.Library.Tracks, r.Library.Albums, r.Library.Artists, r.Library.Playlists)
		fmt.Fprintf(out, "Memory:    %d entries, %s of %s\n",
			r.Memory.Entries, humanize.IBytes(uint64(r.Memory.Size)), humanize.IBytes(uint64(r.Memory.Capacity)))
		if a.cfg.DiskCache.Enabled {
			fmt.Fprintf(out, "Disk:      %d entries, %s of %s (%.1f%% used) in %s\n",
				r.Disk.Entries, humanize.IBytes(uint64(r.Disk.Size)), humanize.IBytes(uint64(r.Disk.Capacity)),
				r.Disk.Utilization*100, a.cfg.DiskCache.Directory)
		} else {
			fmt.Fprintln(out, "Disk:      disabled")
		}
		fmt.Fprintf(out, "Negative:  %d keys without artwork\n", r.Negative)
		fmt.Fprintf(out, "Providers: %v (offline: %t)\n", r.Providers, r.Offline)
		for _, c := range r.Circuits {
			fmt.Fprintf(out, "  %s: %s\n", c.Name, c.State)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
}
