package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rewards holds the point values for each creditable action. Defaults apply
// when no rewards file is configured; a file overrides only the fields it sets.
type Rewards struct {
	DailyCheckIn      int64 `yaml:"daily_check_in"`
	FirstConversation int64 `yaml:"first_conversation"`
	ImageShare        int64 `yaml:"image_share"`

	// StreakMilestone pays an extra bonus each time a check-in streak
	// reaches a multiple of StreakMilestoneDays.
	StreakMilestoneDays  int   `yaml:"streak_milestone_days"`
	StreakMilestoneBonus int64 `yaml:"streak_milestone_bonus"`
}

func DefaultRewards() Rewards {
	return Rewards{
		DailyCheckIn:         10,
		FirstConversation:    50,
		ImageShare:           200,
		StreakMilestoneDays:  7,
		StreakMilestoneBonus: 20,
	}
}

// LoadRewards reads a rewards YAML file, falling back to defaults when path
// is empty. Unset or non-positive values keep their defaults.
func LoadRewards(path string) (Rewards, error) {
	rw := DefaultRewards()
	if path == "" {
		return rw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rewards{}, fmt.Errorf("read rewards file: %w", err)
	}
	var file Rewards
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Rewards{}, fmt.Errorf("parse rewards file: %w", err)
	}
	if file.DailyCheckIn > 0 {
		rw.DailyCheckIn = file.DailyCheckIn
	}
	if file.FirstConversation > 0 {
		rw.FirstConversation = file.FirstConversation
	}
	if file.ImageShare > 0 {
		rw.ImageShare = file.ImageShare
	}
	if file.StreakMilestoneDays > 0 {
		rw.StreakMilestoneDays = file.StreakMilestoneDays
	}
	if file.StreakMilestoneBonus > 0 {
		rw.StreakMilestoneBonus = file.StreakMilestoneBonus
	}
	return rw, nil
}

// StreakBonus returns the extra points owed when a check-in streak reaches
// the given length.
func (r Rewards) StreakBonus(streak int) int64 {
	if r.StreakMilestoneDays <= 0 || streak <= 0 {
		return 0
	}
	if streak%r.StreakMilestoneDays == 0 {
		return r.StreakMilestoneBonus
	}
	return 0
}
