package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Metadata is the subset of probe output the pipeline acts on.
type Metadata struct {
	Width           int
	Height          int
	DurationSeconds float64
	HasVideo        bool
	HasAudio        bool
	Format          string
}

// Prober inspects a media object reachable at a URL.
type Prober interface {
	Probe(ctx context.Context, url string) (Metadata, error)
}

// FFProbe shells out to ffprobe with JSON output.
type FFProbe struct {
	Binary string
}

func NewFFProbe(binary string) *FFProbe {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &FFProbe{Binary: binary}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (p *FFProbe) Probe(ctx context.Context, url string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
		return Metadata{}, probeError("ffprobe", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Metadata{}, probeError("ffprobe", fmt.Errorf("decode output: %w", err))
	}

	meta := Metadata{Format: out.Format.FormatName}
	if out.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			meta.DurationSeconds = seconds
		}
	}
	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			meta.HasVideo = true
			if stream.Width > meta.Width {
				meta.Width = stream.Width
				meta.Height = stream.Height
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	return meta, nil
}
