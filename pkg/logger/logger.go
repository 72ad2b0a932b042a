package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool `split_words:"true" default:"false"`
	PrettyFormat bool `split_words:"true" default:"false"`
	// Level overrides Debug when set, e.g. "warn".
	Level string `split_words:"true"`
	// Stderr keeps stdout free for the chat REPL.
	Stderr bool `split_words:"true" default:"true"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
	Stderr:       true,
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

func Init(opts ...Config) {
	conf := safe(opts...)

	var out io.Writer = os.Stdout
	if conf.Stderr {
		out = os.Stderr
	}

	if conf.PrettyFormat {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}

	log.Logger = log.Logger.Level(level(conf))
	log.Logger = log.Logger.With().Caller().Logger()
}

func level(conf *Config) zerolog.Level {
	if s := strings.TrimSpace(conf.Level); s != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			return lvl
		}
	}
	if conf.Debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
