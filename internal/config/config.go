// Package config loads medstudy settings from defaults, an optional YAML
// file, MEDSTUDY_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nested keys: MEDSTUDY_SERVER__ADDR sets server.addr.
const EnvPrefix = "MEDSTUDY_"

// Config holds every setting the CLI and server read.
type Config struct {
	DB       string `koanf:"db" validate:"required"`
	ReposDir string `koanf:"repos_dir" validate:"required"`

	Log struct {
		Level  string `koanf:"level" validate:"oneof=debug info warn error"`
		Format string `koanf:"format" validate:"oneof=text json"`
	} `koanf:"log"`

	Server struct {
		Addr  string `koanf:"addr" validate:"required"`
		Token string `koanf:"token"`
	} `koanf:"server"`

	Remote struct {
		URL        string        `koanf:"url" validate:"omitempty,url"`
		Token      string        `koanf:"token"`
		MaxRetries int           `koanf:"max_retries" validate:"gte=0,lte=10"`
		Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	} `koanf:"remote"`

	Study struct {
		Limit      int  `koanf:"limit" validate:"gte=1,lte=500"`
		IncludeNew bool `koanf:"include_new"`
	} `koanf:"study"`

	Quiz struct {
		Count     int           `koanf:"count" validate:"gte=1,lte=500"`
		Mode      string        `koanf:"mode" validate:"oneof=standard timed review random"`
		TimeLimit time.Duration `koanf:"time_limit" validate:"gte=0"`
	} `koanf:"quiz"`

	Sync struct {
		Interval time.Duration `koanf:"interval" validate:"gte=0"`
	} `koanf:"sync"`
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"db":              "db",
	"repos-dir":       "repos_dir",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"addr":            "server.addr",
	"token":           "server.token",
	"remote-url":      "remote.url",
	"remote-token":    "remote.token",
	"remote-retries":  "remote.max_retries",
	"remote-timeout":  "remote.timeout",
	"study-limit":     "study.limit",
	"include-new":     "study.include_new",
	"quiz-count":      "quiz.count",
	"quiz-mode":       "quiz.mode",
	"quiz-time-limit": "quiz.time_limit",
	"sync-interval":   "sync.interval",
}

// Flags returns a flag set carrying the config flags and their defaults.
// Commands add their own flags to it before parsing.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to a YAML config file")
	fs.String("db", "medstudy.db", "Path to the SQLite database file")
	fs.String("repos-dir", "repos", "Directory git sources are cloned into")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("addr", ":8080", "Address the HTTP API listens on")
	fs.String("token", "", "Bearer token required by the HTTP API")
	fs.String("remote-url", "", "Session service URL; empty uses the local database")
	fs.String("remote-token", "", "Bearer token sent to the session service")
	fs.Int("remote-retries", 3, "Retries for idempotent session service calls")
	fs.Duration("remote-timeout", 15*time.Second, "Timeout per session service request")
	fs.Int("study-limit", 20, "Cards fetched when a study session starts")
	fs.Bool("include-new", true, "Include never-reviewed cards in study sessions")
	fs.Int("quiz-count", 20, "Questions per quiz")
	fs.String("quiz-mode", "standard", "Quiz mode: standard, timed, review or random")
	fs.Duration("quiz-time-limit", 0, "Time limit of timed quizzes")
	fs.Duration("sync-interval", time.Minute, "Period between background review queue flushes")
	return fs
}

// Load builds the config from a parsed flag set. Unchanged flags only
// provide defaults for keys the file and environment leave unset.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Logger returns a slog logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	// Load has validated the level name.
	_ = level.UnmarshalText([]byte(c.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
