package inactivity

import (
	"fmt"

	"QFMBot/config"
)

// DefaultTrackers 未显式配置检测器时使用的组合
func DefaultTrackers(membership MembershipSource, playback PlaybackState) []Tracker {
	return []Tracker{
		NewUsersInChannelTracker(membership, UsersInChannelOptions{ExcludeBots: true}),
		NewIdlePlayerTracker(playback, "", 0),
	}
}

// OptionsFromConfig 把配置转换为引擎选项，检测器标签重复时返回错误
func OptionsFromConfig(cfg config.InactivityConfig, membership MembershipSource, playback PlaybackState) (Options, error) {
	opts := Options{
		DefaultTimeout:  cfg.DefaultTimeout,
		PollInterval:    cfg.PollInterval,
		Mode:            ParseTrackingMode(cfg.Mode),
		TimeoutBehavior: ParseTimeoutBehavior(cfg.TimeoutBehavior),
	}

	if len(cfg.Trackers) == 0 {
		if cfg.UseDefaultTrackers {
			opts.Trackers = DefaultTrackers(membership, playback)
		}
		return opts, nil
	}

	seen := make(map[string]bool)
	for _, tc := range cfg.Trackers {
		var t Tracker
		switch tc.Kind {
		case "users":
			t = NewUsersInChannelTracker(membership, UsersInChannelOptions{
				Label:       tc.Label,
				Timeout:     tc.Timeout,
				Threshold:   tc.Threshold,
				ExcludeBots: tc.ExcludeBots,
			})
		case "idle":
			t = NewIdlePlayerTracker(playback, tc.Label, tc.Timeout)
		default:
			return Options{}, fmt.Errorf("unknown tracker kind %q", tc.Kind)
		}
		if seen[t.Label()] {
			return Options{}, fmt.Errorf("duplicate tracker label %q", t.Label())
		}
		seen[t.Label()] = true
		opts.Trackers = append(opts.Trackers, t)
	}
	return opts, nil
}
