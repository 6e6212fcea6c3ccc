package config

import (
	"reflect"
	"strings"

	logx "matchcall/pkg/logx"
)

// Summarize lists the sections that differ between two configs plus safe
// log fields describing the new values. Secrets are reported only as
// set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		fields = append(fields,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(newCfg.Alerts.Token) != ""),
			logx.String("alerts.min_level", newCfg.Alerts.MinLevel),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		fields = append(fields,
			logx.String("cache.driver", newCfg.Cache.Driver),
			logx.String("cache.on_unavailable", newCfg.Cache.OnUnavailable),
		)
	}
	if oldCfg.Riot != newCfg.Riot {
		changed = append(changed, "riot")
		fields = append(fields,
			logx.Bool("riot.api_key_set", strings.TrimSpace(newCfg.Riot.APIKey) != ""),
			logx.Float64("riot.rate_per_sec", newCfg.Riot.RatePerSec),
		)
	}
	if oldCfg.Player != newCfg.Player {
		changed = append(changed, "player")
		fields = append(fields, logx.String("player.subject", newCfg.Player.Subject))
	}
	if oldCfg.Poll != newCfg.Poll {
		changed = append(changed, "poll")
		fields = append(fields,
			logx.String("poll.schedule", newCfg.Poll.Schedule),
			logx.String("poll.timeout", newCfg.Poll.Timeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		fields = append(fields, logx.String("dispatch.default_max_duration", newCfg.Dispatch.DefaultMaxDuration))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		fields = append(fields, logx.String("delivery.timeout", newCfg.Delivery.Timeout))
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		fields = append(fields,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return changed, fields
}

// RestartRequired reports sections whose changes only take effect after a
// restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "cache", "riot", "player", "alerts":
			out = append(out, s)
		}
	}
	return out
}
