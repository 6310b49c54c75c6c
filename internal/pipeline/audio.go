package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

const waveformBars = 50

// processAudio transcodes the upload to a streamable mono AAC file and
// extracts a 50-bar waveform for the player UI.
func (o *Orchestrator) processAudio(ctx context.Context, asset models.Asset, logger *slog.Logger) error {
	info, err := o.store.Head(ctx, asset.ObjectKey)
	if err != nil {
		return infraError("head source", err)
	}
	detected, err := o.sniffObject(ctx, asset.ObjectKey, info.Size)
	if err != nil {
		return err
	}
	if err := o.rejectDenied(ctx, asset.ObjectKey, detected); err != nil {
		return err
	}

	sourceURL, err := o.store.PresignGet(ctx, asset.ObjectKey, time.Hour)
	if err != nil {
		return infraError("presign source", err)
	}
	meta, err := o.prober.Probe(ctx, sourceURL)
	if err != nil {
		return err
	}
	if !meta.HasAudio {
		return probeError("probe", fmt.Errorf("no audio stream in %s", asset.ObjectKey))
	}
	asset, err = o.repo.UpdateAsset(asset.ID, storage.AssetUpdate{DurationSeconds: &meta.DurationSeconds})
	if err != nil {
		return infraError("record probe", err)
	}

	scratch, err := o.scratchDir(asset.ID)
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	reporter := o.newProgressReporter(asset)
	progress, err := newProgressListener(meta.DurationSeconds, func(percent float64) {
		reporter.report(ctx, percent)
	})
	if err != nil {
		return infraError("progress listener", err)
	}
	defer progress.Stop()

	audioPath := filepath.Join(scratch, "audio.m4a")
	err = o.runner.Run(ctx, o.tools.FFmpeg,
		"-y",
		"-i", sourceURL,
		"-vn",
		"-c:a", "aac",
		"-b:a", "64k",
		"-ac", "1",
		"-movflags", "+faststart",
		"-progress", progress.Addr(),
		audioPath,
	)
	if err != nil {
		if ctx.Err() != nil {
			return deadlineError("transcode audio", ctx.Err())
		}
		return transcodeError("transcode audio", err)
	}

	pcmPath := filepath.Join(scratch, "waveform.pcm")
	err = o.runner.Run(ctx, o.tools.FFmpeg,
		"-y",
		"-i", sourceURL,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "8000",
		"-ac", "1",
		pcmPath,
	)
	if err != nil {
		if ctx.Err() != nil {
			return deadlineError("extract waveform", ctx.Err())
		}
		return transcodeError("extract waveform", err)
	}
	pcm, err := os.ReadFile(pcmPath)
	if err != nil {
		return infraError("read waveform pcm", err)
	}
	waveform := computeWaveformPeaks(pcm, waveformBars)

	audioKey := processedKey(asset.ID, "audio.m4a")
	if err := o.store.UploadFile(ctx, audioKey, "audio/mp4", cacheLongLived, audioPath); err != nil {
		return infraError("upload audio", err)
	}
	if err := o.store.Delete(ctx, asset.ObjectKey); err != nil {
		return infraError("delete raw audio", err)
	}

	logger.Info("audio transcoded", "duration", meta.DurationSeconds)
	return o.finalizeSuccess(ctx, asset.ID, storage.AssetUpdate{
		ResultKey: &audioKey,
		Waveform:  waveform,
	})
}

// computeWaveformPeaks buckets signed 16-bit little-endian mono samples into
// bars of peak amplitude, normalized to 0-100 against the loudest bar.
func computeWaveformPeaks(pcm []byte, bars int) []int {
	peaks := make([]int, bars)
	samples := len(pcm) / 2
	if samples == 0 || bars <= 0 {
		return peaks
	}
	bucketSize := samples / bars
	if bucketSize == 0 {
		bucketSize = 1
	}

	raw := make([]int, bars)
	maxPeak := 0
	for i := 0; i < samples; i++ {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		if sample < 0 {
			sample = -sample
		}
		bucket := i / bucketSize
		if bucket >= bars {
			bucket = bars - 1
		}
		if sample > raw[bucket] {
			raw[bucket] = sample
		}
		if sample > maxPeak {
			maxPeak = sample
		}
	}
	if maxPeak == 0 {
		return peaks
	}
	for i, peak := range raw {
		peaks[i] = peak * 100 / maxPeak
	}
	return peaks
}
