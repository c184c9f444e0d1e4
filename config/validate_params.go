package config

// ValidateParams 额外验证非空/非零的关键参数。
func ValidateParams(cfg AppConfig) error {
	if cfg.Server.Addr == "" {
		return ErrInvalid("server.addr is required")
	}
	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr == cfg.Server.Addr {
		return ErrInvalid("metrics.addr must differ from server.addr")
	}
	if cfg.Log.Level != "" {
		switch cfg.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return ErrInvalid("log.level must be one of debug/info/warn/error")
		}
	}
	if cfg.Log.Format != "" && cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return ErrInvalid("log.format must be json or console")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
