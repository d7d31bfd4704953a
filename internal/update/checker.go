// Package update checks GitHub for newer echotap releases. It only
// reports; installing an update is left to the operator or their
// package manager.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Release is the subset of a GitHub release the checker needs.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Published  time.Time `json:"published_at"`
	HTMLURL    string    `json:"html_url"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
}

// Checker queries the GitHub releases API for one repository.
type Checker struct {
	apiURL      string
	current     string
	prereleases bool
	client      *http.Client
}

// NewChecker builds a checker against github.com/owner/repo that
// compares releases to the running version.
func NewChecker(owner, repo, current string) *Checker {
	return &Checker{
		apiURL:  fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo),
		current: current,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// IncludePrereleases widens the check to beta and rc tags.
func (c *Checker) IncludePrereleases() {
	c.prereleases = true
}

// Check fetches the newest visible release and reports whether it is
// newer than the running version.
func (c *Checker) Check() (*Release, bool, error) {
	rel, err := c.Latest()
	if err != nil {
		return nil, false, err
	}
	newer := isNewer(
		strings.TrimPrefix(rel.TagName, "v"),
		strings.TrimPrefix(c.current, "v"),
	)
	return rel, newer, nil
}

// Latest returns the newest release. Stable checks use the GitHub
// "latest" endpoint, which already filters prereleases and drafts;
// otherwise the release list is scanned for the first non-draft entry.
func (c *Checker) Latest() (*Release, error) {
	if !c.prereleases {
		var rel Release
		if err := c.get(c.apiURL+"/releases/latest", &rel); err != nil {
			return nil, err
		}
		return &rel, nil
	}

	var releases []Release
	if err := c.get(c.apiURL+"/releases?per_page=30", &releases); err != nil {
		return nil, err
	}
	for i := range releases {
		if !releases[i].Draft {
			return &releases[i], nil
		}
	}
	return nil, fmt.Errorf("update: no releases published")
}

func (c *Checker) get(url string, out interface{}) error {
	resp, err := c.client.Get(url)
	if err != nil {
		return fmt.Errorf("update: fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update: github API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("update: parse releases: %w", err)
	}
	return nil
}

// isNewer compares dotted numeric versions segment by segment. Equal
// prefixes fall back to segment count so "0.2.1" beats "0.2".
// Non-numeric segments (including a bare "dev" build) count as zero.
func isNewer(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) && i < len(bs); i++ {
		var av, bv int
		if _, err := fmt.Sscanf(as[i], "%d", &av); err != nil {
			av = 0
		}
		if _, err := fmt.Sscanf(bs[i], "%d", &bv); err != nil {
			bv = 0
		}
		if av != bv {
			return av > bv
		}
	}
	return len(as) > len(bs)
}
