// Package piped tracks which Piped API mirror the gateway talks to.
//
// The current instance is process-wide state held by a Directory. It starts
// at a configured default, is replaced by a background refresher that probes
// the public instance list, and is read by extractors as a copied snapshot.
package piped

import (
	"net/url"
	"strings"
)

// DefaultAPIURL is used until the first successful refresh.
const DefaultAPIURL = "https://pipedapi.kavin.rocks"

// Instance is one Piped API mirror.
type Instance struct {
	APIURL string `json:"apiUrl"`
}

// NewInstance returns an Instance for apiURL without a trailing slash.
func NewInstance(apiURL string) Instance {
	return Instance{APIURL: strings.TrimRight(apiURL, "/")}
}

// StreamURL is the endpoint describing the streams of a video.
func (i Instance) StreamURL(videoID string) string {
	return i.APIURL + "/streams/" + url.PathEscape(videoID)
}

// Host returns the host part of the API URL.
func (i Instance) Host() string {
	u, err := url.Parse(i.APIURL)
	if err != nil {
		return ""
	}
	return u.Host
}
