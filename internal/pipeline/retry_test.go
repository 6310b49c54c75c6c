package pipeline

import (
	"testing"
	"time"

	"mediaforge/internal/models"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := KindPolicy{BackoffBase: 2 * time.Second, BackoffCap: 2 * time.Minute}

	previousCeiling := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		delay := policy.Backoff(attempt)
		// 10% jitter either way around the deterministic value.
		ceiling := 2 * time.Second << (attempt - 1)
		if ceiling > 2*time.Minute {
			ceiling = 2 * time.Minute
		}
		upper := ceiling + ceiling/5
		if delay < 0 || delay > upper {
			t.Fatalf("attempt %d: delay %s outside [0, %s]", attempt, delay, upper)
		}
		if ceiling < previousCeiling {
			t.Fatalf("attempt %d: ceiling shrank", attempt)
		}
		previousCeiling = ceiling
	}
}

func TestBackoffDefaults(t *testing.T) {
	var policy KindPolicy
	if delay := policy.Backoff(1); delay > 3*time.Second {
		t.Fatalf("first delay too large: %s", delay)
	}
}

func TestPolicyFallsBackToFileKind(t *testing.T) {
	policy := DefaultRetryPolicy()
	unknown := policy.For(models.AssetKind("mystery"))
	if unknown != policy[models.KindFile] {
		t.Fatal("unknown kinds should use the file policy")
	}
}

func TestVideoGetsLongestDeadline(t *testing.T) {
	policy := DefaultRetryPolicy()
	video := policy.For(models.KindVideo)
	for _, kind := range []models.AssetKind{models.KindImage, models.KindAudio, models.KindFile} {
		if policy.For(kind).SoftDeadline >= video.SoftDeadline {
			t.Fatalf("%s deadline should be shorter than video", kind)
		}
	}
	for kind, kp := range policy {
		if kp.HardDeadline <= kp.SoftDeadline {
			t.Fatalf("%s hard deadline must exceed soft deadline", kind)
		}
	}
}
