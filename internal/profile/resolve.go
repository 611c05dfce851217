package profile

import "github.com/matheus3301/officechat/internal/config"

// DefaultName is the profile used when neither the flag nor config.toml
// names one.
const DefaultName = "main"

// Resolve picks which profile, and therefore which database, lock and log,
// a command operates on. Precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
//
// The result is not validated; callers pass it to ValidateName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
