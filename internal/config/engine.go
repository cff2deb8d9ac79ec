package config

import "time"

type Engine struct {
	FarTick          time.Duration `env:"SCHEDULER_FAR_TICK" envDefault:"2s"`
	NearTick         time.Duration `env:"SCHEDULER_NEAR_TICK" envDefault:"250ms"`
	NearWindow       time.Duration `env:"SCHEDULER_NEAR_WINDOW" envDefault:"30s"`
	EndingSoonWindow time.Duration `env:"SCHEDULER_ENDING_SOON_WINDOW" envDefault:"1m"`
	SubscriberBuffer int           `env:"STREAM_SUBSCRIBER_BUFFER" envDefault:"64"`
}
