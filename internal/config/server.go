package config

import "time"

type Server struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ProbeAddr       string        `env:"PROBE_ADDR" envDefault:":8081"`
	MetricAddr      string        `env:"METRIC_ADDR" envDefault:":8082"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogFieldMaxLen  int           `env:"LOG_FIELD_MAX_LEN" envDefault:"2048"`
}
