package cli

import (
	"os"

	"github.com/carverauto/footnote/pkg/lifecycle"
	"github.com/carverauto/footnote/pkg/logger"
)

// newCLILogger builds a production logger.Logger from the environment,
// matching how every long-lived CLI command logs (lifecycle.CreateLogger,
// never the package-level global funcs). The on-disk log_level, when set,
// overrides the environment's level, and log lines go to stderr unless
// LOG_OUTPUT says otherwise, so stdout carries only the command's JSON result.
func newCLILogger() (logger.Logger, error) {
	cfg := logger.DefaultConfig()
	if lvl := loadCLIConfig().LogLevel; lvl != "" {
		cfg.Level = lvl
	}

	if os.Getenv("LOG_OUTPUT") == "" {
		cfg.Output = "stderr"
	}

	l, err := lifecycle.CreateLogger(cfg)
	if err != nil {
		return nil, err
	}

	return l, nil
}
