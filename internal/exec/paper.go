package exec

import (
	"sync"

	"github.com/seenimoa/backtrail/pkg/models"
)

// PaperExecutor wraps a BacktestExecutor with an in-memory account so a
// strategy can be dry-run against a forward feed: fills debit cash and
// accumulate positions, and an order the account cannot afford is
// rejected instead of silently shrunk.
type PaperExecutor struct {
	mu        sync.Mutex
	inner     *BacktestExecutor
	cash      float64
	positions map[string]float64 // symbol -> signed quantity
}

// NewPaperExecutor creates a paper account with the given starting cash.
func NewPaperExecutor(startingCash float64, inner *BacktestExecutor) *PaperExecutor {
	if inner == nil {
		inner = &BacktestExecutor{}
	}
	return &PaperExecutor{
		inner:     inner,
		cash:      startingCash,
		positions: make(map[string]float64),
	}
}

// Execute fills the order against the paper account.
func (p *PaperExecutor) Execute(req models.OrderRequest) (*models.Fill, error) {
	fill, err := p.inner.Execute(req)
	if err != nil || fill == nil {
		return fill, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := fill.FillPrice*fill.Quantity + fill.Commission
	switch req.Direction {
	case models.DirectionBuy, models.DirectionCover:
		if cost > p.cash {
			return nil, models.NewExecutionError(req.Symbol, "insufficient paper cash: need %.2f, have %.2f", cost, p.cash)
		}
		p.cash -= cost
		p.positions[req.Symbol] += fill.Quantity
	case models.DirectionSell, models.DirectionShort:
		p.cash += fill.FillPrice*fill.Quantity - fill.Commission
		p.positions[req.Symbol] -= fill.Quantity
	}
	if p.positions[req.Symbol] == 0 {
		delete(p.positions, req.Symbol)
	}
	return fill, nil
}

// Cash returns the current paper cash balance.
func (p *PaperExecutor) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Position returns the signed quantity held in symbol.
func (p *PaperExecutor) Position(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[symbol]
}
