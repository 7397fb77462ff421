package api

import "regexp"

// titlePattern extracts an episode/title identifier from an advertised
// video URL by pattern match; absence is not an error. It covers the
// common shapes seen across watch-party clients: a query parameter
// (?v=, ?ep=, ?episode=, ?title=) or a path segment following /watch/,
// /episode/, or /ep/.
var titlePattern = regexp.MustCompile(`(?:[?&](?:v|ep|episode|title)=([^&#]+))|(?:/(?:watch|episode|ep)/([A-Za-z0-9_-]+))`)

// extractTitleID returns the matched identifier, or "" if videoURL carries
// none of the recognized shapes.
func extractTitleID(videoURL string) string {
	m := titlePattern.FindStringSubmatch(videoURL)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
