// Package spotify implements the Spotify connector: playlist editing, track
// search and artist lookups on behalf of a linked user.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/tools"
)

const (
	defaultTokenURL   = "https://accounts.spotify.com/api/token"
	defaultAPIBaseURL = "https://api.spotify.com/v1"
	defaultTimeout    = 30 * time.Second
)

// Config carries the Spotify app registration plus overridable endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
}

type Connector struct {
	resolver   *tools.CredentialResolver
	baseURL    string
	httpClient *http.Client
}

func New(store *connections.Store, cfg Config) *Connector {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Connector{
		resolver: tools.NewCredentialResolver("spotify", store, tools.OAuthApp{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		}),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Connector) Name() string { return "spotify" }

func (c *Connector) Tools() []tools.ToolDefinition {
	return []tools.ToolDefinition{
		{
			Name: "spotify_add_to_playlist",
			Description: "Use this to ADD a song to a playlist. Trigger this tool when the user asks to 'add', 'save', 'put', or 'include' a song in any playlist. " +
				"The playlist name and song title must be extracted from the user's request. " +
				"Do NOT use this when the user just wants to search or look up a song.",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"query":         {Type: "string", Description: "The user's original query"},
					"playlist_name": {Type: "string", Description: "Spotify playlist name"},
					"track_name":    {Type: "string", Description: "Spotify track name"},
				},
				Required: []string{"query", "playlist_name", "track_name"},
			},
		},
		{
			Name:        "spotify_remove_from_playlist",
			Description: "Remove a track from a Spotify playlist",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"query":         {Type: "string", Description: "The user's original query"},
					"playlist_name": {Type: "string", Description: "Spotify playlist name"},
					"track_name":    {Type: "string", Description: "Spotify track name"},
				},
				Required: []string{"query", "playlist_name", "track_name"},
			},
		},
		{
			Name:        "spotify_get_user_playlists",
			Description: "Get user's Spotify playlists",
			InputSchema: tools.InputSchema{
				Type:       "object",
				Properties: map[string]tools.Property{},
			},
		},
		{
			Name:        "spotify_search_tracks",
			Description: "Only use when the user is explicitly asking to search or look up songs. Do NOT use if the user asks to add or remove.",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"query": {Type: "string", Description: "Search query"},
					"limit": {Type: "integer", Description: "Number of results", Default: 10},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "spotify_get_artist_info",
			Description: "Get metadata about an artist like genres, popularity, and followers",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"artist_name": {Type: "string", Description: "Spotify artist name"},
				},
				Required: []string{"artist_name"},
			},
		},
		{
			Name:        "spotify_get_artist_top_tracks",
			Description: "Get the top tracks for a Spotify artist",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"artist_name": {Type: "string", Description: "Spotify artist name"},
					"market":      {Type: "string", Description: "Market country code", Default: "US"},
				},
				Required: []string{"artist_name"},
			},
		},
	}
}

// Call resolves a credential for the user, then performs the upstream calls
// the named tool requires. Every invocation re-validates the stored token.
func (c *Connector) Call(ctx context.Context, name tools.ToolName, args map[string]any, userID string) (string, error) {
	cred, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	switch name.Verb {
	case "add_to_playlist":
		return c.addToPlaylist(ctx, cred, args)
	case "remove_from_playlist":
		return c.removeFromPlaylist(ctx, cred, args)
	case "get_user_playlists":
		return c.getUserPlaylists(ctx, cred)
	case "search_tracks":
		return c.searchTracksTool(ctx, cred, args)
	case "get_artist_info":
		return c.getArtistInfo(ctx, cred, args)
	case "get_artist_top_tracks":
		return c.getArtistTopTracks(ctx, cred, args)
	default:
		return "", &tools.UnknownToolError{Name: name.String()}
	}
}

type trackHit struct {
	Name   string
	Artist string
	URI    string
}

func (h trackHit) String() string {
	return fmt.Sprintf("%s by %s - %s", h.Name, h.Artist, h.URI)
}

func (c *Connector) addToPlaylist(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	hit, playlistID, msg, err := c.resolveTrackAndPlaylist(ctx, cred, args)
	if err != nil || msg != "" {
		return msg, err
	}

	status, err := c.doJSON(ctx, cred, http.MethodPost,
		"/playlists/"+playlistID+"/tracks", nil,
		map[string]any{"uris": []string{hit.URI}}, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return fmt.Sprintf("Error: %d", status), nil
	}
	return "Track added to playlist", nil
}

func (c *Connector) removeFromPlaylist(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	hit, playlistID, msg, err := c.resolveTrackAndPlaylist(ctx, cred, args)
	if err != nil || msg != "" {
		return msg, err
	}

	status, err := c.doJSON(ctx, cred, http.MethodDelete,
		"/playlists/"+playlistID+"/tracks", nil,
		map[string]any{"tracks": []map[string]string{{"uri": hit.URI}}}, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Error: %d", status), nil
	}
	return "Track removed from playlist", nil
}

// resolveTrackAndPlaylist runs the two lookups shared by the playlist
// mutation tools. A lookup miss produces a not-found message (msg != ""),
// which is distinct from an upstream failure (err != nil).
func (c *Connector) resolveTrackAndPlaylist(ctx context.Context, cred tools.Credential, args map[string]any) (trackHit, string, string, error) {
	query := tools.StringArg(args, "query")
	hits, err := c.searchTracks(ctx, cred, query, 10)
	if err != nil {
		return trackHit{}, "", "", err
	}
	if len(hits) == 0 {
		return trackHit{}, "", fmt.Sprintf("No tracks found for %q", query), nil
	}

	playlistName := tools.StringArg(args, "playlist_name")
	playlistID, err := c.playlistIDByName(ctx, cred, playlistName)
	if err != nil {
		return trackHit{}, "", "", err
	}
	if playlistID == "" {
		return trackHit{}, "", fmt.Sprintf("Could not find a playlist named %q", playlistName), nil
	}
	return hits[0], playlistID, "", nil
}

func (c *Connector) getUserPlaylists(ctx context.Context, cred tools.Credential) (string, error) {
	var out struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/me/playlists", nil, nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Error getting playlists: %d", status), nil
	}

	names := make([]string, len(out.Items))
	for i, p := range out.Items {
		names[i] = p.Name
	}
	return strings.Join(names, "\n"), nil
}

func (c *Connector) searchTracksTool(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	hits, err := c.searchTracks(ctx, cred, tools.StringArg(args, "query"), tools.IntArg(args, "limit", 10))
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "Error searching for songs in spotify", nil
	}

	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = h.String()
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Connector) getArtistInfo(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	artistName := tools.StringArg(args, "artist_name")
	artistID, err := c.artistIDByName(ctx, cred, artistName)
	if err != nil {
		return "", err
	}
	if artistID == "" {
		return fmt.Sprintf("Failed to get artist info for %s", artistName), nil
	}

	var out struct {
		Name       string   `json:"name"`
		Genres     []string `json:"genres"`
		Popularity int      `json:"popularity"`
		Followers  struct {
			Total int `json:"total"`
		} `json:"followers"`
		Images []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"images"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/artists/"+artistID, nil, nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Artist info error: %d", status), nil
	}

	genres := strings.Join(out.Genres, ", ")
	if genres == "" {
		genres = "None"
	}
	images := make([]string, len(out.Images))
	for i, img := range out.Images {
		images[i] = fmt.Sprintf("%s (%dx%d)", img.URL, img.Width, img.Height)
	}

	return fmt.Sprintf(
		"Here is the artist information for %s:\n"+
			"Artist Name: %s\n"+
			"Genres: %s\n"+
			"Popularity: %d\n"+
			"Followers: %d\n"+
			"Images: \n\n%s\n"+
			"Spotify URL: %s",
		out.Name, out.Name, genres, out.Popularity, out.Followers.Total,
		strings.Join(images, "\n\n"), out.ExternalURLs.Spotify), nil
}

func (c *Connector) getArtistTopTracks(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	artistName := tools.StringArg(args, "artist_name")
	artistID, err := c.artistIDByName(ctx, cred, artistName)
	if err != nil {
		return "", err
	}
	if artistID == "" {
		return fmt.Sprintf("Failed to get top tracks for %s", artistName), nil
	}

	market := tools.StringArg(args, "market")
	if market == "" {
		market = "US"
	}

	var out struct {
		Tracks []struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"tracks"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/artists/"+artistID+"/top-tracks",
		url.Values{"market": {market}}, nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Top track error: %d", status), nil
	}

	lines := make([]string, len(out.Tracks))
	for i, t := range out.Tracks {
		artist := ""
		if len(t.Artists) > 0 {
			artist = t.Artists[0].Name
		}
		lines[i] = fmt.Sprintf("%s by %s", t.Name, artist)
	}
	return strings.Join(lines, "\n"), nil
}

// searchTracks queries the track search endpoint. An empty result is a
// lookup miss, not an error.
func (c *Connector) searchTracks(ctx context.Context, cred tools.Credential, query string, limit int) ([]trackHit, error) {
	var out struct {
		Tracks struct {
			Items []struct {
				Name    string `json:"name"`
				URI     string `json:"uri"`
				Artists []struct {
					Name string `json:"name"`
				} `json:"artists"`
			} `json:"items"`
		} `json:"tracks"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/search",
		url.Values{"q": {query}, "type": {"track"}, "limit": {fmt.Sprint(limit)}}, nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &tools.UpstreamError{Service: "spotify", Op: "track search", Status: status}
	}

	hits := make([]trackHit, 0, len(out.Tracks.Items))
	for _, item := range out.Tracks.Items {
		artist := ""
		if len(item.Artists) > 0 {
			artist = item.Artists[0].Name
		}
		hits = append(hits, trackHit{Name: item.Name, Artist: artist, URI: item.URI})
	}
	return hits, nil
}

// playlistIDByName scans the user's playlists for a case-insensitive name
// match. Returns "" when no playlist matches.
func (c *Connector) playlistIDByName(ctx context.Context, cred tools.Credential, name string) (string, error) {
	var out struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/me/playlists", nil, nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &tools.UpstreamError{Service: "spotify", Op: "playlist lookup", Status: status}
	}

	for _, p := range out.Items {
		if strings.EqualFold(p.Name, name) {
			return p.ID, nil
		}
	}
	return "", nil
}

// artistIDByName searches artists and returns the exact (case-insensitive)
// name match, or "" when none of the results match.
func (c *Connector) artistIDByName(ctx context.Context, cred tools.Credential, name string) (string, error) {
	var out struct {
		Artists struct {
			Items []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"items"`
		} `json:"artists"`
	}
	status, err := c.doJSON(ctx, cred, http.MethodGet, "/search",
		url.Values{"q": {name}, "type": {"artist"}, "limit": {"10"}}, nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", nil
	}

	for _, a := range out.Artists.Items {
		if strings.EqualFold(a.Name, name) {
			return a.ID, nil
		}
	}
	return "", nil
}

// doJSON performs one authenticated API round trip. Transport failures come
// back as UpstreamError; HTTP status handling stays with the caller.
func (c *Connector) doJSON(ctx context.Context, cred tools.Credential, method, path string, query url.Values, body, out any) (int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &tools.UpstreamError{Service: "spotify", Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &tools.UpstreamError{Service: "spotify", Op: "decode " + path, Err: err}
		}
	}
	return resp.StatusCode, nil
}

var _ tools.Connector = (*Connector)(nil)
