// Package economy holds the clicker game's score arithmetic. State values are
// immutable: every operation returns the next state.
package economy

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientScore = errors.New("insufficient score")
	ErrUnknownUpgrade    = errors.New("unknown upgrade")
)

// Upgrade names a purchasable upgrade.
type Upgrade string

const (
	// UpgradeClick adds one point per click.
	UpgradeClick Upgrade = "click"
	// UpgradeAuto adds one point per second of passive income.
	UpgradeAuto Upgrade = "auto"
)

// Config holds upgrade base costs. The price of the next level is
// base * (owned levels + 1).
type Config struct {
	ClickUpgradeCost int64 `yaml:"click_upgrade_cost"`
	AutoUpgradeCost  int64 `yaml:"auto_upgrade_cost"`
}

// DefaultConfig returns the stock upgrade prices.
func DefaultConfig() Config {
	return Config{ClickUpgradeCost: 10, AutoUpgradeCost: 50}
}

// State is one player's game state.
type State struct {
	Score       int64     `json:"score"`
	ClickPower  int64     `json:"click_power"`
	AutoPoints  int64     `json:"auto_points"`
	ClickLevel  int       `json:"click_level"`
	AutoLevel   int       `json:"auto_level"`
	LastAccrual time.Time `json:"last_accrual"`
}

// NewState returns a fresh game: zero score, one point per click.
func NewState(now time.Time) State {
	return State{ClickPower: 1, LastAccrual: now}
}

// Click adds the current click power to the score.
func (s State) Click() State {
	s.Score += s.ClickPower
	return s
}

// Accrue adds passive income for every whole second since the last accrual.
// The fractional remainder carries over to the next call.
func (s State) Accrue(now time.Time) State {
	if !now.After(s.LastAccrual) {
		return s
	}
	secs := int64(now.Sub(s.LastAccrual) / time.Second)
	if secs == 0 {
		return s
	}
	s.Score += secs * s.AutoPoints
	s.LastAccrual = s.LastAccrual.Add(time.Duration(secs) * time.Second)
	return s
}

// Credit adds reward points.
func (s State) Credit(points int64) State {
	if points > 0 {
		s.Score += points
	}
	return s
}

// Cost returns the price of the next level of u.
func (s State) Cost(cfg Config, u Upgrade) (int64, error) {
	switch u {
	case UpgradeClick:
		return cfg.ClickUpgradeCost * int64(s.ClickLevel+1), nil
	case UpgradeAuto:
		return cfg.AutoUpgradeCost * int64(s.AutoLevel+1), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUpgrade, u)
	}
}

// Buy purchases one level of u.
func (s State) Buy(cfg Config, u Upgrade) (State, error) {
	cost, err := s.Cost(cfg, u)
	if err != nil {
		return s, err
	}
	if s.Score < cost {
		return s, fmt.Errorf("%w: %s costs %d, have %d", ErrInsufficientScore, u, cost, s.Score)
	}
	s.Score -= cost
	switch u {
	case UpgradeClick:
		s.ClickLevel++
		s.ClickPower++
	case UpgradeAuto:
		s.AutoLevel++
		s.AutoPoints++
	}
	return s, nil
}

// RewardPolicy decides how many points a finished exercise session earns.
type RewardPolicy struct {
	PerRep        int64 `yaml:"per_rep"`
	GoalBonus     int64 `yaml:"goal_bonus"`
	PartialCredit bool  `yaml:"partial_credit"`
}

// DefaultRewardPolicy pays per repetition plus a bonus for reaching the goal,
// and nothing for abandoned sessions.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{PerRep: 10, GoalBonus: 100}
}

// Reward returns the points for a session that ended with reps repetitions.
func (p RewardPolicy) Reward(reps int, goalReached bool) int64 {
	if !goalReached && !p.PartialCredit {
		return 0
	}
	points := int64(reps) * p.PerRep
	if goalReached {
		points += p.GoalBonus
	}
	return points
}
