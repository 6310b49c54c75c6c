package pipeline

import (
	"strings"
	"testing"
)

func TestMasterPlaylistRender(t *testing.T) {
	master := &MasterPlaylist{}
	master.Add(Rendition{Name: "360p", Width: 640, Height: 360, BitrateKbps: 800})
	master.Add(Rendition{Name: "240p", Width: 426, Height: 240, BitrateKbps: 400})

	body := master.Render()
	want := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=426x240\n" +
		"240p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n" +
		"360p/index.m3u8\n"
	if body != want {
		t.Fatalf("unexpected playlist:\n%s", body)
	}
}

func TestMasterPlaylistGrowsAsSuperset(t *testing.T) {
	master := &MasterPlaylist{}
	master.Add(Rendition{Name: "240p", Width: 426, Height: 240, BitrateKbps: 400})
	first := master.Render()

	master.Add(Rendition{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 2500})
	second := master.Render()

	for _, line := range strings.Split(strings.TrimSpace(first), "\n") {
		if !strings.Contains(second, line) {
			t.Fatalf("republished master dropped line %q", line)
		}
	}
}

func TestMasterPlaylistIgnoresDuplicates(t *testing.T) {
	master := &MasterPlaylist{}
	master.Add(Rendition{Name: "240p", Width: 426, Height: 240, BitrateKbps: 400})
	master.Add(Rendition{Name: "240p", Width: 426, Height: 240, BitrateKbps: 400})

	if master.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", master.Len())
	}
}
