package engine

import "github.com/seenimoa/backtrail/internal/config"

// FromSettings builds a run Config from the loaded application
// settings. Zero-valued fields fall back to DefaultConfig in NewEngine.
func FromSettings(ec config.EngineConfig) Config {
	return Config{
		InitialCapital:    ec.InitialCapital,
		CommissionRate:    ec.CommissionRate,
		SlippageRate:      ec.SlippageRate,
		LotSize:           ec.LotSize,
		Tiers:             ec.TieredCommission,
		RiskFreeRate:      ec.RiskFreeRate,
		WeightScheme:      ec.WeightScheme,
		FixedWeights:      ec.FixedWeights,
		RebalanceFreq:     ec.RebalanceFreq,
		RebalanceDay:      ec.RebalanceDay,
		DriftThresholdPct: ec.DriftThresholdPct,
	}
}
