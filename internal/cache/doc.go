/*
Package cache holds decoded artwork at three levels.

# Levels

	┌──────────────────────────────┐
	│          Fetcher             │
	└──────────────┬───────────────┘
	               │ key
	┌──────────────▼───────────────┐
	│         MemoryCache          │  decoded images, byte-weighted LRU
	└──────────────┬───────────────┘
	               │ miss
	┌──────────────▼───────────────┐
	│          DiskStore           │  encoded PNG/JPEG files + JSON index
	└──────────────┬───────────────┘
	               │ miss
	┌──────────────▼───────────────┐
	│        NegativeCache         │  keys known to have no artwork
	└──────────────────────────────┘

MemoryCache charges every entry four bytes per pixel and evicts least
recently used entries until the total fits its capacity. An entry larger
than the whole capacity is not stored. Entries are never mutated, so a
target may keep showing an image after it has been evicted.

DiskStore writes each image to a file named by the SHA-256 of its key and
keeps key, size, checksum and access time in an index that is synced in the
background and on Close. A file whose checksum no longer matches is dropped
and reported as a miss. SetPaused stops all key store reads and writes
without touching the filesystem; ArtworkFromFile, which decodes tag and
folder artwork through the media index, is not affected by pausing.

NegativeCache is an expirable LRU of keys for which every provider answered
without a URL. Transport failures are never recorded there.

# Usage

	memory := cache.NewMemoryCache(16 << 20)
	disk, err := cache.NewDiskStore(cache.DiskStoreConfig{
		Directory: dir,
		MaxSize:   64 << 20,
		Encoder:   render.NewEncoder(render.FormatPNG, 0, pool),
		Media:     library,
	})
	if err != nil {
		return err
	}
	defer disk.Close()

	if img := memory.Get(key); img == nil {
		if img = disk.Get(key); img != nil {
			memory.Put(key, img)
		}
	}

All three types are safe for concurrent use.
*/
package cache
