package config

import "time"

type Balance struct {
	BaseURL string        `env:"BALANCE_BASE_URL,notEmpty"`
	Token   string        `env:"BALANCE_TOKEN" json:"-"`
	Timeout time.Duration `env:"BALANCE_TIMEOUT" envDefault:"5s"`
}
