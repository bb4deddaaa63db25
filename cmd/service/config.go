package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the binary reads from the environment. Every knob
// has a default so the service boots with nothing set: no DATABASE_URL
// means an in-memory store, no REDIS_URL an in-process feed, no
// JWT_SECRET trust in the gateway's X-User-Id header.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string

	JWTSecret     []byte
	AllowedOrigin string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	PresenceTTL   time.Duration
	PresenceSweep time.Duration

	SnapshotEvery int
}

func loadConfig() Config {
	v := viper.New()

	v.SetDefault("port", "3008")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("cors.allowed_origin", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@powerhour.local")
	v.SetDefault("presence.ttl", time.Minute)
	v.SetDefault("presence.sweep_interval", 30*time.Second)
	v.SetDefault("snapshot.every", 32)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return Config{
		Port:          v.GetString("port"),
		DatabaseURL:   v.GetString("database.url"),
		RedisURL:      v.GetString("redis.url"),
		JWTSecret:     []byte(v.GetString("jwt.secret")),
		AllowedOrigin: v.GetString("cors.allowed_origin"),
		SMTPHost:      v.GetString("smtp.host"),
		SMTPPort:      v.GetString("smtp.port"),
		SMTPUsername:  v.GetString("smtp.username"),
		SMTPPassword:  v.GetString("smtp.password"),
		SMTPFrom:      v.GetString("smtp.from"),
		PresenceTTL:   v.GetDuration("presence.ttl"),
		PresenceSweep: v.GetDuration("presence.sweep_interval"),
		SnapshotEvery: v.GetInt("snapshot.every"),
	}
}
