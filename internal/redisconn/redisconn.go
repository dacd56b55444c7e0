// Package redisconn turns a Redis connection string into client options.
package redisconn

import (
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

var errEmpty = errors.New("redis connection string is empty")

// Options accepts either a redis:// URL or the "host:port,password=...,ssl=True"
// form used by hosted Redis offerings.
func Options(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, errEmpty
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

// New opens a client for conn.
func New(conn string) (*redis.Client, error) {
	opts, err := Options(conn)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
