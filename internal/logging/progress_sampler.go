package logging

import (
	"strings"
	"time"
)

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when stages or percentage buckets change.
type ProgressSampler struct {
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the stage changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. Percent can be
// negative to indicate "unknown"; stage is trimmed before comparison.
func (s *ProgressSampler) ShouldLog(percent float64, stage string) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		emit = true
		s.lastBucket = -1
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a new job starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}

// CrossedBucket reports whether moving from previous to current percent
// crosses a bucket boundary. Stateless processors (which only know the last
// persisted value) use it instead of a sampler instance.
func CrossedBucket(previous, current, bucketSize float64) bool {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	if current < 0 {
		return false
	}
	if previous < 0 {
		return true
	}
	return int(current/bucketSize) != int(previous/bucketSize)
}

// ProgressThrottle emits when progress advanced by at least step percent or
// when interval elapsed since the last emission, whichever comes first.
type ProgressThrottle struct {
	step        float64
	interval    time.Duration
	now         func() time.Time
	lastPercent float64
	lastAt      time.Time
	started     bool
}

// NewProgressThrottle builds a throttle; zero values default to 10% / 5 minutes.
func NewProgressThrottle(step float64, interval time.Duration) *ProgressThrottle {
	if step <= 0 {
		step = 10
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ProgressThrottle{step: step, interval: interval, now: time.Now}
}

// ShouldEmit reports whether the given percent warrants a progress line.
func (t *ProgressThrottle) ShouldEmit(percent float64) bool {
	if t == nil {
		return true
	}
	now := t.now()
	if !t.started {
		t.started = true
		t.lastPercent = percent
		t.lastAt = now
		return true
	}
	if percent-t.lastPercent >= t.step || now.Sub(t.lastAt) >= t.interval || (percent >= 100 && t.lastPercent < 100) {
		t.lastPercent = percent
		t.lastAt = now
		return true
	}
	return false
}
