package types

import (
	"strconv"
	"strings"
)

const (
	albumKeySuffix      = "album"
	blurKeySuffix       = "blur"
	playlistCoverPrefix = "playlist_cover_"
	playlistArtPrefix   = "playlist_artist_"
	artistKeySuffix     = "artist"
)

// ArtistKey returns the cache key of an artist image. It is the artist name,
// except that a name shaped like another kind of key gets an "_artist" suffix.
func ArtistKey(artist string) string {
	if reservedArtistName(artist) {
		return artist + "_" + artistKeySuffix
	}
	return artist
}

func reservedArtistName(name string) bool {
	return strings.HasPrefix(name, playlistCoverPrefix) ||
		strings.HasPrefix(name, playlistArtPrefix) ||
		strings.HasSuffix(name, "_"+albumKeySuffix) ||
		strings.HasSuffix(name, "_"+blurKeySuffix) ||
		strings.HasSuffix(name, "_"+artistKeySuffix)
}

// AlbumKey returns the cache key of an album cover, or "" when either name is missing
func AlbumKey(album, artist string) string {
	if album == "" || artist == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(album) + len(artist) + len(albumKeySuffix) + 2)
	b.WriteString(album)
	b.WriteByte('_')
	b.WriteString(artist)
	b.WriteByte('_')
	b.WriteString(albumKeySuffix)
	return b.String()
}

// BlurKey returns the key a blurred derivative of key is cached under
func BlurKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "_" + blurKeySuffix
}

// PlaylistCoverKey returns the key of a playlist's composite cover
func PlaylistCoverKey(playlistID int64) string {
	return playlistCoverPrefix + strconv.FormatInt(playlistID, 10)
}

// PlaylistArtistKey returns the key of a playlist's top-artist image
func PlaylistArtistKey(playlistID int64) string {
	return playlistArtPrefix + strconv.FormatInt(playlistID, 10)
}
