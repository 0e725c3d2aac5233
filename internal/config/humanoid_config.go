// File: internal/config/humanoid_config.go
// HumanoidConfig holds the timing model used to make browser gestures look
// like they came from a person: how long a click is held, and how long the
// "user" pauses to look at the screen between actions.
package config

import "github.com/spf13/viper"

// HumanoidConfig tunes the gaussian pause and hold models.
type HumanoidConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	ClickHoldMinMs int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	PauseMeanMs    float64 `mapstructure:"pause_mean_ms" yaml:"pause_mean_ms"`
	PauseStdDevMs  float64 `mapstructure:"pause_stddev_ms" yaml:"pause_stddev_ms"`
	// FatigueFactor grows pauses a little with every action taken in a session.
	FatigueFactor float64 `mapstructure:"fatigue_factor" yaml:"fatigue_factor"`
	// FatigueRecoveryRate is the fatigue shed per second spent pausing.
	FatigueRecoveryRate float64 `mapstructure:"fatigue_recovery_rate" yaml:"fatigue_recovery_rate"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 40)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)
	v.SetDefault("browser.humanoid.pause_mean_ms", 350.0)
	v.SetDefault("browser.humanoid.pause_stddev_ms", 120.0)
	v.SetDefault("browser.humanoid.fatigue_factor", 0.01)
	v.SetDefault("browser.humanoid.fatigue_recovery_rate", 0.01)
}
