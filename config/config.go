package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ConnectionURL string
	HubName       string

	ReconnectFloor      time.Duration
	ReconnectCap        time.Duration
	KeepAliveInterval   time.Duration
	InvokeTimeout       time.Duration
	DelayBetweenInvokes time.Duration

	MetricsAddr string
	Debug       bool
}

// Load reads configuration from the environment, with a .env file as an
// optional local override. All keys are prefixed with BOOKHUB_.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BOOKHUB")
	v.AutomaticEnv()

	v.SetDefault("connection_url", "https://socket.bittrex.com/signalr")
	v.SetDefault("hub_name", "c2")
	v.SetDefault("reconnect_floor", 5*time.Second)
	v.SetDefault("reconnect_cap", 60*time.Second)
	v.SetDefault("keep_alive_interval", 5*time.Second)
	v.SetDefault("invoke_timeout", 10*time.Second)
	v.SetDefault("delay_between_invokes", 100*time.Millisecond)
	v.SetDefault("metrics_addr", ":8080")
	v.SetDefault("debug", false)

	return &Config{
		ConnectionURL:       v.GetString("connection_url"),
		HubName:             v.GetString("hub_name"),
		ReconnectFloor:      v.GetDuration("reconnect_floor"),
		ReconnectCap:        v.GetDuration("reconnect_cap"),
		KeepAliveInterval:   v.GetDuration("keep_alive_interval"),
		InvokeTimeout:       v.GetDuration("invoke_timeout"),
		DelayBetweenInvokes: v.GetDuration("delay_between_invokes"),
		MetricsAddr:         v.GetString("metrics_addr"),
		Debug:               v.GetBool("debug"),
	}
}
