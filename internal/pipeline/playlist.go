package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Cache policies applied when publishing pipeline outputs. Segments never
// change once written; playlists are rewritten until the ladder completes.
const (
	cacheImmutable  = "public, max-age=31536000, immutable"
	cacheLongLived  = "public, max-age=31536000"
	cacheRevalidate = "no-cache"
)

const (
	playlistContentType = "application/x-mpegURL"
	segmentContentType  = "video/MP2T"
)

// MasterPlaylist accumulates finished renditions and renders the HLS master.
// Each republication is a superset of the previous one so clients that
// fetched an earlier master keep working.
type MasterPlaylist struct {
	entries []Rendition
}

// Add records a finished rendition. Duplicates are ignored so replayed
// checkpoint entries cannot produce a double listing.
func (m *MasterPlaylist) Add(rendition Rendition) {
	for _, existing := range m.entries {
		if existing.Name == rendition.Name {
			return
		}
	}
	m.entries = append(m.entries, rendition)
	sort.Slice(m.entries, func(i, j int) bool {
		return m.entries[i].Height < m.entries[j].Height
	})
}

// Len reports how many renditions the master currently lists.
func (m *MasterPlaylist) Len() int {
	return len(m.entries)
}

// Render produces the master playlist body, variants in ascending quality.
func (m *MasterPlaylist) Render() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, rendition := range m.entries {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			rendition.BitrateKbps*1000, rendition.Width, rendition.Height)
		fmt.Fprintf(&b, "%s/index.m3u8\n", rendition.Name)
	}
	return b.String()
}
