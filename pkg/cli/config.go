package cli

import (
	"context"
	"os"
	"sync"

	"github.com/carverauto/footnote/pkg/config"
	"github.com/carverauto/footnote/pkg/logger"
)

// cliConfig is the optional on-disk configuration footnote reads through
// pkg/config: a default contact nickname for `service share`, and the
// logger level new CLI invocations start at. Any field left at its zero
// value falls back to the flag-level default, matching LoadAndValidate's
// "missing file yields zero values" contract.
type cliConfig struct {
	DefaultShareNickname string `json:"default_share_nickname"`
	LogLevel             string `json:"log_level"`
}

var (
	cliConfigOnce sync.Once
	cliConfigVal  cliConfig
)

// footnoteConfigPath names the on-disk document loadCLIConfig reads, in
// the same spirit as the teacher's CONFIG_SOURCE/-config-file convention:
// FOOTNOTE_CONFIG if set, otherwise ".footnote-cli.json" in the working
// directory.
func footnoteConfigPath() string {
	if p := os.Getenv("FOOTNOTE_CONFIG"); p != "" {
		return p
	}

	return ".footnote-cli.json"
}

func loadCLIConfig() cliConfig {
	cliConfigOnce.Do(func() {
		var cfg cliConfig

		c := config.NewConfig(logger.NewTestLogger())
		if err := c.LoadAndValidate(context.Background(), footnoteConfigPath(), &cfg); err != nil {
			return
		}

		cliConfigVal = cfg
	})

	return cliConfigVal
}
