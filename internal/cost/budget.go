package cost

import (
	"sync"

	"golang.org/x/time/rate"

	"cartrita/internal/domain"
)

// BudgetConfig bounds spending and request rate for a process.
type BudgetConfig struct {
	// MaxUSD is the total estimated spend allowed. Zero means unlimited.
	MaxUSD float64 `yaml:"max_usd"`
	// RequestsPerSecond gates dispatch rate. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the rate limiter burst size. Defaults to 1 when a rate
	// is configured.
	Burst int `yaml:"burst"`
}

// Budget is the gate agents and the dispatcher consult before
// execution. Spend tracking uses estimates from the cost table.
type Budget struct {
	mu      sync.Mutex
	maxUSD  float64
	spent   float64
	limiter *rate.Limiter
	costs   *Manager
}

// NewBudget creates a budget gate over the given cost manager.
func NewBudget(cfg BudgetConfig, costs *Manager) *Budget {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Budget{maxUSD: cfg.MaxUSD, limiter: limiter, costs: costs}
}

// Check gates one prospective execution of taskType. Returns
// ErrBudgetExceeded when the estimated cost would pass the cap and
// ErrRateLimited when the request rate gate trips.
func (b *Budget) Check(taskType string) error {
	if b.limiter != nil && !b.limiter.Allow() {
		return domain.ErrRateLimited
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxUSD > 0 && b.spent+b.costs.EstimateCost(taskType) > b.maxUSD {
		return domain.NewDomainError("budget.Check", domain.ErrBudgetExceeded,
			"estimated spend would exceed configured cap")
	}
	return nil
}

// Record accumulates the actual estimated cost of a finished task.
func (b *Budget) Record(resp domain.TaskResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += resp.Metrics.CostUSD
}

// Spent returns the accumulated estimated spend.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}
