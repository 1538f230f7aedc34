package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the matcher's tunable thresholds. It is passed in explicitly
// so evaluation stays pure.
type Config struct {
	// AmountTolerance is the largest underpayment still accepted (flagged as a mismatch).
	AmountTolerance decimal.Decimal `mapstructure:"amount_tolerance" json:"amount_tolerance"`
	// ExactTolerance absorbs rounding; diffs at or below it count as exact.
	ExactTolerance decimal.Decimal `mapstructure:"exact_tolerance" json:"exact_tolerance"`
	// AllowOverpayment accepts any overpayment (flagged as a mismatch); otherwise
	// overpayments are held to AmountTolerance.
	AllowOverpayment bool `mapstructure:"allow_overpayment" json:"allow_overpayment"`
	// NameSimilarityThreshold is the percentage (0-100) counted as a name match.
	NameSimilarityThreshold int `mapstructure:"name_similarity_threshold" json:"name_similarity_threshold"`
	// NeutralNameScore is used when either side has no name.
	NeutralNameScore int `mapstructure:"neutral_name_score" json:"neutral_name_score"`
	// ClockSkew tolerates a payment created slightly after the bank timestamp.
	ClockSkew time.Duration `mapstructure:"clock_skew" json:"clock_skew"`
	// TimeWindow, when positive, rejects transactions arriving longer than this after the payment was created.
	TimeWindow time.Duration `mapstructure:"time_window" json:"time_window"`
}

func DefaultConfig() Config {
	return Config{
		AmountTolerance:         decimal.NewFromInt(500),
		ExactTolerance:          decimal.NewFromFloat(0.01),
		AllowOverpayment:        true,
		NameSimilarityThreshold: 65,
		NeutralNameScore:        50,
		ClockSkew:               5 * time.Minute,
	}
}

func StrictConfig() Config {
	return Config{
		AmountTolerance:         decimal.Zero,
		ExactTolerance:          decimal.NewFromFloat(0.01),
		AllowOverpayment:        false,
		NameSimilarityThreshold: 80,
		NeutralNameScore:        50,
		ClockSkew:               time.Minute,
		TimeWindow:              2 * time.Hour,
	}
}

func RelaxedConfig() Config {
	return Config{
		AmountTolerance:         decimal.NewFromInt(1000),
		ExactTolerance:          decimal.NewFromFloat(0.01),
		AllowOverpayment:        true,
		NameSimilarityThreshold: 55,
		NeutralNameScore:        50,
		ClockSkew:               15 * time.Minute,
	}
}

// Validate checks the thresholds are usable.
func (c Config) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", c.AmountTolerance)
	}
	if c.ExactTolerance.IsNegative() {
		return fmt.Errorf("exact tolerance cannot be negative: %s", c.ExactTolerance)
	}
	if c.NameSimilarityThreshold < 0 || c.NameSimilarityThreshold > 100 {
		return fmt.Errorf("name similarity threshold must be between 0 and 100: %d", c.NameSimilarityThreshold)
	}
	if c.NeutralNameScore < 0 || c.NeutralNameScore > 100 {
		return fmt.Errorf("neutral name score must be between 0 and 100: %d", c.NeutralNameScore)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("clock skew cannot be negative: %s", c.ClockSkew)
	}
	if c.TimeWindow < 0 {
		return fmt.Errorf("time window cannot be negative: %s", c.TimeWindow)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("matching.Config{AmountTolerance: %s, NameThreshold: %d%%, Neutral: %d%%, ClockSkew: %s, TimeWindow: %s}",
		c.AmountTolerance.StringFixed(2), c.NameSimilarityThreshold, c.NeutralNameScore, c.ClockSkew, c.TimeWindow)
}
