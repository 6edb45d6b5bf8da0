package twitter

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// ArchivedCookie is the on-disk form of one session cookie
type ArchivedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// CookieArchive persists session cookies per owner as a gzip-compressed JSON
// map. Load failures are treated as an empty archive so a corrupt file never
// blocks startup.
type CookieArchive struct {
	path string

	mu      sync.Mutex
	entries map[int64][]ArchivedCookie
}

// NewCookieArchive creates an archive backed by the given file
func NewCookieArchive(path string) *CookieArchive {
	return &CookieArchive{
		path:    path,
		entries: make(map[int64][]ArchivedCookie),
	}
}

// Load reads the archive from disk; a missing file yields an empty archive
func (a *CookieArchive) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open cookie archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read cookie archive: %w", err)
	}
	defer gz.Close()

	entries := make(map[int64][]ArchivedCookie)
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode cookie archive: %w", err)
	}

	a.entries = entries
	return nil
}

// Save writes the archive to disk
func (a *CookieArchive) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create cookie archive: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := json.NewEncoder(gz).Encode(a.entries); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode cookie archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush cookie archive: %w", err)
	}

	return nil
}

// Cookies returns the archived session cookies for an owner
func (a *CookieArchive) Cookies(ownerID int64) []*http.Cookie {
	a.mu.Lock()
	defer a.mu.Unlock()

	archived, ok := a.entries[ownerID]
	if !ok {
		return nil
	}

	cookies := make([]*http.Cookie, 0, len(archived))
	for _, c := range archived {
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return cookies
}

// Store replaces an owner's archived cookies
func (a *CookieArchive) Store(ownerID int64, cookies []*http.Cookie) {
	a.mu.Lock()
	defer a.mu.Unlock()

	archived := make([]ArchivedCookie, 0, len(cookies))
	for _, c := range cookies {
		archived = append(archived, ArchivedCookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	a.entries[ownerID] = archived
}

// Owners returns the ids with archived cookies
func (a *CookieArchive) Owners() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	owners := make([]int64, 0, len(a.entries))
	for id := range a.entries {
		owners = append(owners, id)
	}
	return owners
}
