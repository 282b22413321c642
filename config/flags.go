package config

import (
	"flag"
	"time"
)

const defaultEnvFile = ".env"

type flags struct {
	configPath string
	envFile    string
	envFileSet bool

	mode       string
	listen     string
	userID     string
	settleWait time.Duration
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("fxdesk", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to yaml config")
	fs.StringVar(&f.envFile, "env-file", defaultEnvFile, "path to .env file")
	fs.StringVar(&f.mode, "mode", "", "run mode: serve or tui")
	fs.StringVar(&f.listen, "listen", "", "proxy listen address, example: :3000")
	fs.StringVar(&f.userID, "user", "", "user id to show, example: c1")
	fs.DurationVar(&f.settleWait, "settle-timeout", 0, "how long to wait for a job to settle")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "env-file" {
			f.envFileSet = true
		}
	})
	return f, nil
}

// apply overrides cfg with the flags given on the command line.
func (f flags) apply(cfg *Config) {
	setString(&cfg.Mode, f.mode)
	setString(&cfg.ListenAddr, f.listen)
	setString(&cfg.DefaultUserID, f.userID)
	setDuration(&cfg.SettleTimeout, f.settleWait)
}
