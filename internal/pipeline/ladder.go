package pipeline

import "sort"

// Rendition is one rung of the adaptive-bitrate ladder. Bitrates are in
// kilobits per second; the playlist advertises BitrateKbps * 1000 as the
// BANDWIDTH attribute.
type Rendition struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
	MaxRateKbps int
	BufSizeKbps int
}

// upscaleTolerance allows a rendition slightly above the source resolution so
// a 1910-wide source still earns a 1080p rung.
const upscaleTolerance = 0.9

// DefaultLadder lists every rendition the pipeline can produce, largest
// first. Selection reorders the chosen subset to ascend.
func DefaultLadder() []Rendition {
	return []Rendition{
		{Name: "1080p", Width: 1920, Height: 1080, BitrateKbps: 4500, MaxRateKbps: 4800, BufSizeKbps: 6000},
		{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 2500, MaxRateKbps: 2800, BufSizeKbps: 3500},
		{Name: "480p", Width: 854, Height: 480, BitrateKbps: 1200, MaxRateKbps: 1400, BufSizeKbps: 2000},
		{Name: "360p", Width: 640, Height: 360, BitrateKbps: 800, MaxRateKbps: 900, BufSizeKbps: 1200},
		{Name: "240p", Width: 426, Height: 240, BitrateKbps: 400, MaxRateKbps: 450, BufSizeKbps: 600},
	}
}

// SelectRenditions picks the ladder rungs a source earns, smallest first so
// playback becomes possible as early as the first finished rendition. A
// rendition qualifies when the source's short edge reaches at least 90% of
// the rendition height. Sources below every rung still get the lowest rung so
// no valid video produces an empty ladder.
func SelectRenditions(ladder []Rendition, sourceWidth, sourceHeight int) []Rendition {
	if len(ladder) == 0 {
		return nil
	}
	shortEdge := sourceHeight
	if sourceWidth > 0 && sourceWidth < shortEdge {
		shortEdge = sourceWidth
	}

	selected := make([]Rendition, 0, len(ladder))
	lowest := ladder[0]
	for _, rendition := range ladder {
		if rendition.Height < lowest.Height {
			lowest = rendition
		}
		if float64(shortEdge) >= float64(rendition.Height)*upscaleTolerance {
			selected = append(selected, rendition)
		}
	}
	if len(selected) == 0 {
		selected = append(selected, lowest)
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Height < selected[j].Height
	})
	return selected
}
