package remote

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/eleven/artcache/pkg/types"
)

// Provider looks up artwork URLs on one web service
type Provider interface {
	Name() string
	Supports(imageType types.ImageType) bool
	// Lookup returns "" when the service knows no artwork for the query
	Lookup(ctx context.Context, artist, album string, imageType types.ImageType) (string, error)
}

// Default service endpoints
const (
	DeezerBaseURL      = "https://api.deezer.com"
	ITunesBaseURL      = "https://itunes.apple.com"
	MusicBrainzBaseURL = "https://musicbrainz.org"
	CoverArtBaseURL    = "https://coverartarchive.org"
	LastFMBaseURL      = "https://www.last.fm"
)

var bracketed = regexp.MustCompile(`(?i)\s*[\[(].*?[\])]`)

// cleanTerm strips "(Deluxe Edition)" style suffixes and collapses whitespace
func cleanTerm(s string) string {
	s = bracketed.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.Join(strings.Fields(s), " ")
}

func searchTerm(artist, album string) string {
	return strings.TrimSpace(cleanTerm(artist) + " " + cleanTerm(album))
}

// Deezer resolves album covers and artist pictures
type Deezer struct {
	BaseURL string
	http    *httpClient
}

func (d *Deezer) Name() string { return "deezer" }

func (d *Deezer) Supports(imageType types.ImageType) bool {
	return imageType == types.ImageTypeAlbum || imageType == types.ImageTypeArtist
}

func (d *Deezer) Lookup(ctx context.Context, artist, album string, imageType types.ImageType) (string, error) {
	if imageType == types.ImageTypeArtist {
		return d.lookupArtist(ctx, artist)
	}
	return d.lookupAlbum(ctx, artist, album)
}

func (d *Deezer) lookupAlbum(ctx context.Context, artist, album string) (string, error) {
	term := searchTerm(artist, album)
	if term == "" {
		return "", nil
	}

	var response struct {
		Data []struct {
			Cover       string `json:"cover"`
			CoverMedium string `json:"cover_medium"`
			CoverBig    string `json:"cover_big"`
			CoverXL     string `json:"cover_xl"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/search/album?q=%s&limit=1", d.BaseURL, url.QueryEscape(term))
	if err := d.http.getJSON(ctx, u, &response); err != nil {
		return "", err
	}
	if len(response.Data) == 0 {
		return "", nil
	}
	r := response.Data[0]
	return firstNonEmpty(r.CoverXL, r.CoverBig, r.CoverMedium, r.Cover), nil
}

func (d *Deezer) lookupArtist(ctx context.Context, artist string) (string, error) {
	term := cleanTerm(artist)
	if term == "" {
		return "", nil
	}

	var response struct {
		Data []struct {
			Picture       string `json:"picture"`
			PictureMedium string `json:"picture_medium"`
			PictureBig    string `json:"picture_big"`
			PictureXL     string `json:"picture_xl"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/search/artist?q=%s&limit=1", d.BaseURL, url.QueryEscape(term))
	if err := d.http.getJSON(ctx, u, &response); err != nil {
		return "", err
	}
	if len(response.Data) == 0 {
		return "", nil
	}
	r := response.Data[0]
	return firstNonEmpty(r.PictureXL, r.PictureBig, r.PictureMedium, r.Picture), nil
}

// ITunes resolves album covers from the iTunes search API
type ITunes struct {
	BaseURL string
	http    *httpClient
}

func (i *ITunes) Name() string { return "itunes" }

func (i *ITunes) Supports(imageType types.ImageType) bool {
	return imageType == types.ImageTypeAlbum
}

func (i *ITunes) Lookup(ctx context.Context, artist, album string, _ types.ImageType) (string, error) {
	term := searchTerm(artist, album)
	if term == "" {
		return "", nil
	}

	var response struct {
		ResultCount int `json:"resultCount"`
		Results     []struct {
			ArtworkURL100 string `json:"artworkUrl100"`
			ArtworkURL60  string `json:"artworkUrl60"`
		} `json:"results"`
	}
	u := fmt.Sprintf("%s/search?term=%s&entity=album&limit=1", i.BaseURL, url.QueryEscape(term))
	if err := i.http.getJSON(ctx, u, &response); err != nil {
		return "", err
	}
	if response.ResultCount == 0 || len(response.Results) == 0 {
		return "", nil
	}

	r := response.Results[0]
	switch {
	case r.ArtworkURL100 != "":
		return strings.Replace(r.ArtworkURL100, "100x100", "600x600", 1), nil
	case r.ArtworkURL60 != "":
		return strings.Replace(r.ArtworkURL60, "60x60", "600x600", 1), nil
	default:
		return "", nil
	}
}

// MusicBrainz finds a release and points at its Cover Art Archive front image
type MusicBrainz struct {
	BaseURL         string
	CoverArtBaseURL string
	http            *httpClient
}

func (m *MusicBrainz) Name() string { return "musicbrainz" }

func (m *MusicBrainz) Supports(imageType types.ImageType) bool {
	return imageType == types.ImageTypeAlbum
}

func (m *MusicBrainz) Lookup(ctx context.Context, artist, album string, _ types.ImageType) (string, error) {
	release := strings.TrimSpace(album)
	if release == "" {
		return "", nil
	}

	parts := []string{fmt.Sprintf("release:\"%s\"", sanitizeMBQuery(release))}
	if artist != "" {
		parts = append(parts, fmt.Sprintf("artist:\"%s\"", sanitizeMBQuery(artist)))
	}
	query := strings.Join(parts, " AND ")

	var response struct {
		Releases []struct {
			ID string `json:"id"`
		} `json:"releases"`
	}
	u := fmt.Sprintf("%s/ws/2/release/?query=%s&fmt=json&limit=1", m.BaseURL, url.QueryEscape(query))
	if err := m.http.getJSON(ctx, u, &response); err != nil {
		return "", err
	}
	if len(response.Releases) == 0 || response.Releases[0].ID == "" {
		return "", nil
	}
	return fmt.Sprintf("%s/release/%s/front-500", m.CoverArtBaseURL, response.Releases[0].ID), nil
}

func sanitizeMBQuery(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\"", ""))
}

// lastFMPlaceholder is part of the image Last.fm serves for artists without a picture
const lastFMPlaceholder = "2a96cbd8b46e442fc41c2b86b821562f"

// LastFM scrapes the og:image of an artist page
type LastFM struct {
	BaseURL string
	http    *httpClient
}

func (l *LastFM) Name() string { return "lastfm" }

func (l *LastFM) Supports(imageType types.ImageType) bool {
	return imageType == types.ImageTypeArtist
}

func (l *LastFM) Lookup(ctx context.Context, artist, _ string, _ types.ImageType) (string, error) {
	name := strings.TrimSpace(artist)
	if name == "" {
		return "", nil
	}

	page := fmt.Sprintf("%s/music/%s", l.BaseURL, url.PathEscape(strings.ReplaceAll(name, " ", "+")))
	resp, err := l.http.do(ctx, page, "text/html")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	var image string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if property, _ := s.Attr("property"); property == "og:image" {
			image, _ = s.Attr("content")
			return false
		}
		return true
	})
	if strings.Contains(image, lastFMPlaceholder) {
		return "", nil
	}
	return strings.TrimSpace(image), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
