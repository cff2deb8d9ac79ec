package config

import "time"

type Redis struct {
	Addr            string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password        string        `env:"REDIS_PASSWORD" json:"-"`
	DB              int           `env:"REDIS_DB" envDefault:"0"`
	ReplayMaxEvents int           `env:"REPLAY_MAX_EVENTS" envDefault:"1024"`
	ReplayRetention time.Duration `env:"REPLAY_RETENTION" envDefault:"1h"`
}
