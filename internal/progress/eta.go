package progress

import (
	"fmt"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultStageDurations is the simple-estimate fallback table used when
// no historical samples are available for a stage.
var defaultStageDurations = map[int]float64{0: 5, 1: 30, 2: 120, 3: 20}

const defaultStageDurationFallback = 60.0

// HistoryStore is the historical-durations query surface ETAPredictor
// consumes; a thin seam so callers can back it with Redis-persisted
// history or an in-memory ring buffer.
type HistoryStore interface {
	// Recent returns up to limit TaskHistory entries for
	// (templateID, quality, success=true) completed within maxAge, most
	// recent first.
	Recent(templateID, quality string, limit int, maxAge time.Duration) []TaskHistory
}

// ETAPredictor predicts task completion time from historical per-stage
// durations, falling back to a fixed default table with <3 data points.
type ETAPredictor struct {
	history HistoryStore
	cache   *lru.Cache[string, Prediction]
	cacheTTL time.Duration
	cachedAt map[string]time.Time
}

// NewETAPredictor builds a predictor backed by history, with a 1-hour
// default cache TTL.
func NewETAPredictor(history HistoryStore, cacheSize int, cacheTTL time.Duration) (*ETAPredictor, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	cache, err := lru.New[string, Prediction](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ETAPredictor{history: history, cache: cache, cacheTTL: cacheTTL, cachedAt: make(map[string]time.Time)}, nil
}

// Prediction is an ETA estimate paired with the confidence score backing
// it, so callers can tell a well-supported historical estimate from a
// default-duration guess.
type Prediction struct {
	ETA        time.Time
	Confidence float64
}

// Predict estimates completion time for a task currently at
// (currentStage, stageProgress) out of totalStages, along with a
// confidence score for that estimate. Confidence is <= 0.5 for any
// estimate that falls back to default stage durations (no or
// insufficient history).
func (p *ETAPredictor) Predict(templateID, quality string, currentStage int, stageProgress float64, totalStages int) Prediction {
	key := fmt.Sprintf("%s:%s:%d:%d", templateID, quality, currentStage, int(stageProgress*100))
	if pred, ok := p.cache.Get(key); ok {
		if cachedAt, exists := p.cachedAt[key]; exists && time.Since(cachedAt) < p.cacheTTL {
			return pred
		}
	}

	var pred Prediction
	if p.history == nil {
		pred = simpleEstimate(currentStage, stageProgress, totalStages)
	} else {
		similar := p.history.Recent(templateID, quality, 100, 7*24*time.Hour)
		if len(similar) < 3 {
			pred = simpleEstimate(currentStage, stageProgress, totalStages)
		} else {
			remaining := remainingTime(similar, currentStage, stageProgress, totalStages)
			confidence := confidenceOf(similar)
			adjusted := remaining * (1 + (1-confidence)*0.5)
			pred = Prediction{
				ETA:        time.Now().Add(time.Duration(adjusted * float64(time.Second))),
				Confidence: confidence,
			}
		}
	}

	p.cache.Add(key, pred)
	p.cachedAt[key] = time.Now()
	return pred
}

// simpleDurationConfidence is the fixed confidence assigned to any
// estimate built from defaultStageDurations rather than real history.
const simpleDurationConfidence = 0.3

func simpleEstimate(currentStage int, stageProgress float64, totalStages int) Prediction {
	remaining := durationFor(currentStage) * (1 - stageProgress)
	for s := currentStage + 1; s < totalStages; s++ {
		remaining += durationFor(s)
	}
	return Prediction{
		ETA:        time.Now().Add(time.Duration(remaining * float64(time.Second))),
		Confidence: simpleDurationConfidence,
	}
}

func durationFor(stage int) float64 {
	if d, ok := defaultStageDurations[stage]; ok {
		return d
	}
	return defaultStageDurationFallback
}

func remainingTime(similar []TaskHistory, currentStage int, stageProgress float64, totalStages int) float64 {
	durationsByStage := map[int][]float64{}
	for _, h := range similar {
		for stage, dur := range h.StageDurations {
			durationsByStage[stage] = append(durationsByStage[stage], dur)
		}
	}

	p75 := map[int]float64{}
	for stage, durations := range durationsByStage {
		p75[stage] = percentile(durations, 75)
	}

	avg := func() float64 {
		if len(p75) == 0 {
			return defaultStageDurationFallback
		}
		var sum float64
		for _, v := range p75 {
			sum += v
		}
		return sum / float64(len(p75))
	}

	var remaining float64
	if d, ok := p75[currentStage]; ok {
		remaining += d * (1 - stageProgress)
	} else {
		remaining += avg() * (1 - stageProgress)
	}

	for s := currentStage + 1; s < totalStages; s++ {
		if d, ok := p75[s]; ok {
			remaining += d
		} else {
			remaining += avg()
		}
	}
	return remaining
}

func percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := (pct / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// confidenceOf scores a prediction's reliability: a sample-count base of
// min(0.95, 0.7 + 0.02*n), scaled down by recency decay and
// coefficient-of-variation penalties, clamped to [0.1, 1.0].
func confidenceOf(similar []TaskHistory) float64 {
	if len(similar) == 0 {
		return 0
	}
	confidence := math.Min(0.95, 0.7+0.02*float64(len(similar)))

	oldest := similar[0].CompletedAt
	for _, h := range similar {
		if h.CompletedAt.Before(oldest) {
			oldest = h.CompletedAt
		}
	}
	ageDays := time.Since(oldest).Hours() / 24
	if ageDays > 30 {
		confidence *= 0.8
	} else if ageDays > 7 {
		confidence *= 0.9
	}

	if len(similar) > 1 {
		durations := make([]float64, len(similar))
		for i, h := range similar {
			durations[i] = h.TotalDuration
		}
		mean := meanOf(durations)
		if mean > 0 {
			cv := stdDev(durations, mean) / mean
			if cv > 0.5 {
				confidence *= 0.7
			} else if cv > 0.3 {
				confidence *= 0.85
			}
		}
	}

	if confidence < 0.1 {
		return 0.1
	}
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
