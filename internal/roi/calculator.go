package roi

import (
	"context"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// DefaultResamples is the bootstrap resample count when none is configured.
const DefaultResamples = 1000

// Calculator aggregates credited conversion value against campaign cost.
// The bootstrap is the only CPU-heavy piece and fans out across workers;
// everything else is a handful of divisions.
type Calculator struct {
	resamples int
	workers   int
	seed      int64
	log       *zap.Logger
}

// NewCalculator creates a calculator. The seed pins the bootstrap RNG so
// repeated runs over the same conversion set report the same interval.
func NewCalculator(resamples int, seed int64, log *zap.Logger) *Calculator {
	if resamples <= 0 {
		resamples = DefaultResamples
	}
	return &Calculator{
		resamples: resamples,
		workers:   runtime.NumCPU(),
		seed:      seed,
		log:       log,
	}
}

// Compute derives CampaignFinancials from a campaign's attribution results
// and its sponsorship cost. It fails with ZeroCostError when cost <= 0: ROI
// is undefined there and the caller flags the campaign instead of reporting
// an artifact of dividing by zero.
func (c *Calculator) Compute(ctx context.Context, settings domain.CampaignSettings, results []*domain.AttributionResult) (*domain.CampaignFinancials, error) {
	if settings.Cost <= 0 {
		return nil, &domain.ZeroCostError{CampaignID: settings.CampaignID, Cost: settings.Cost}
	}

	values := make([]float64, 0, len(results))
	var total float64
	var lowConfidence int
	for _, r := range results {
		v := r.TotalAttributed()
		values = append(values, v)
		total += v
		if r.LowConfidence {
			lowConfidence++
		}
	}

	interval, err := c.bootstrap(ctx, values)
	if err != nil {
		return nil, err
	}

	return &domain.CampaignFinancials{
		TenantID:             settings.TenantID,
		CampaignID:           settings.CampaignID,
		Model:                settings.Model,
		Cost:                 settings.Cost,
		AttributedValueTotal: total,
		ROIPercentage:        (total - settings.Cost) / settings.Cost * 100,
		ROAS:                 total / settings.Cost,
		Interval:             interval,
		ConversionCount:      len(results),
		LowConfidenceCount:   lowConfidence,
		ComputedAt:           time.Now().UTC(),
	}, nil
}

// bootstrap resamples the conversion set with replacement and reads the 95%
// interval off the resampled totals. Resamples are independent, so they split
// evenly across workers, each with its own deterministically-seeded RNG.
func (c *Calculator) bootstrap(ctx context.Context, values []float64) (domain.ConfidenceInterval, error) {
	if len(values) == 0 {
		return domain.ConfidenceInterval{}, nil
	}

	sums := make([]float64, c.resamples)
	var wg sync.WaitGroup

	chunk := (c.resamples + c.workers - 1) / c.workers
	for w := 0; w < c.workers; w++ {
		start := w * chunk
		if start >= c.resamples {
			break
		}
		end := start + chunk
		if end > c.resamples {
			end = c.resamples
		}

		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(c.seed + int64(worker)))
			for i := start; i < end; i++ {
				if i%256 == 0 && ctx.Err() != nil {
					return
				}
				var sum float64
				for range values {
					sum += values[rng.Intn(len(values))]
				}
				sums[i] = sum
			}
		}(w, start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.ConfidenceInterval{}, err
	}

	sort.Float64s(sums)
	return domain.ConfidenceInterval{
		Lower: percentile(sums, 0.025),
		Upper: percentile(sums, 0.975),
	}, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
