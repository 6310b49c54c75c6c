package pipeline

import "testing"

func renditionNames(renditions []Rendition) []string {
	names := make([]string, 0, len(renditions))
	for _, rendition := range renditions {
		names = append(names, rendition.Name)
	}
	return names
}

func TestSelectRenditionsNeverUpscales(t *testing.T) {
	cases := []struct {
		name   string
		width  int
		height int
		want   []string
	}{
		{name: "sd source earns two rungs", width: 640, height: 360, want: []string{"240p", "360p"}},
		{name: "full hd earns the whole ladder", width: 1920, height: 1080, want: []string{"240p", "360p", "480p", "720p", "1080p"}},
		{name: "slightly short of 1080 still qualifies", width: 1728, height: 972, want: []string{"240p", "360p", "480p", "720p", "1080p"}},
		{name: "720 source stops at 720p", width: 1280, height: 720, want: []string{"240p", "360p", "480p", "720p"}},
		{name: "portrait uses the short edge", width: 720, height: 1280, want: []string{"240p", "360p", "480p", "720p"}},
		{name: "tiny source falls back to lowest", width: 160, height: 120, want: []string{"240p"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := renditionNames(SelectRenditions(DefaultLadder(), tc.width, tc.height))
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestSelectRenditionsAscending(t *testing.T) {
	selected := SelectRenditions(DefaultLadder(), 1920, 1080)
	for i := 1; i < len(selected); i++ {
		if selected[i].Height <= selected[i-1].Height {
			t.Fatalf("ladder not ascending at %d: %v", i, renditionNames(selected))
		}
	}
}

func TestSelectRenditionsEmptyLadder(t *testing.T) {
	if got := SelectRenditions(nil, 1920, 1080); got != nil {
		t.Fatalf("expected nil for empty ladder, got %v", got)
	}
}
