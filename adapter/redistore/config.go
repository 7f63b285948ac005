package redistore

import (
	"crypto/tls"

	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed envelope store.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// KeyPrefix namespaces all keys written by the store.
	KeyPrefix string
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:      "127.0.0.1:6379",
		DB:        0,
		KeyPrefix: "xevent",
	}
}

// ConfigFromMap builds a Config from the generic provider options blob.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()

	getStr := func(k string, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	c.Addr = getStr("addr", c.Addr)
	c.Username = getStr("username", c.Username)
	c.Password = getStr("password", c.Password)
	c.DB = getInt("db", c.DB)
	c.TLS = getBool("tls", c.TLS)
	c.TLSServerName = getStr("tls_server_name", c.TLSServerName)
	c.KeyPrefix = getStr("key_prefix", c.KeyPrefix)
	return c
}

func (c Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.TLSServerName}
	}
	return opts
}
