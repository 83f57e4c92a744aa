package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/okx-data/internal/config"
	"github.com/rickgao/okx-data/internal/version"
)

// connURL is the postgres:// URL for cfg. Userinfo escaping is left to
// url.UserPassword; query escaping turns spaces into '+', which libpq reads
// literally in the password.
func connURL(cfg config.DBConfig) *url.URL {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", version.UserAgent())

	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
}

// BuildConnString builds the connection string used by the pool and by
// migrations. Sessions identify themselves by application_name.
func BuildConnString(cfg config.DBConfig) string {
	return connURL(cfg).String()
}

// RedactedTarget is the connection URL with the password masked, for logs.
func RedactedTarget(cfg config.DBConfig) string {
	return connURL(cfg).Redacted()
}
