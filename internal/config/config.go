// Package config resolves the gateway configuration from command line
// flags, environment variables, and an optional YAML config file, in
// that order of precedence.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultPort              = 7867
	defaultBindHost          = "0.0.0.0"
	defaultDatabasePrefix    = "oc_"
	defaultLogLevel          = "warn"
	defaultSocketPermissions = 0o666
	defaultMaxDebounceTime   = 15 * time.Second
)

// Bind describes a listener: either a TCP address or a unix socket
// path with file permissions.
type Bind struct {
	Addr        string
	SocketPath  string
	Permissions fs.FileMode
}

func (b Bind) IsUnix() bool {
	return b.SocketPath != ""
}

func (b Bind) String() string {
	if b.IsUnix() {
		return b.SocketPath
	}
	return b.Addr
}

// TLS is a certificate/key pair for the main listener.
type TLS struct {
	Cert string
	Key  string
}

// Config is the fully resolved configuration record.
type Config struct {
	DatabaseURL    string
	DatabasePrefix string
	RedisURLs      []string
	UpstreamURL    string

	Bind        Bind
	MetricsBind *Bind
	TLS         *TLS

	AllowSelfSigned bool
	LogLevel        string
	NoANSI          bool

	MaxDebounceTime   time.Duration
	MaxConnectionTime time.Duration
}

// partialConfig is one configuration source. Zero values (or nil
// pointers) mean "not set"; merge fills them from a lower-precedence
// source.
type partialConfig struct {
	DatabaseURL       string   `yaml:"database_url"`
	DatabasePrefix    string   `yaml:"database_prefix"`
	RedisURLs         []string `yaml:"redis_urls"`
	UpstreamURL       string   `yaml:"upstream_url"`
	BindHost          string   `yaml:"bind"`
	Port              int      `yaml:"port"`
	SocketPath        string   `yaml:"socket_path"`
	SocketPermissions string   `yaml:"socket_permissions"`
	MetricsPort       int      `yaml:"metrics_port"`
	MetricsSocketPath string   `yaml:"metrics_socket_path"`
	TLSCert           string   `yaml:"tls_cert"`
	TLSKey            string   `yaml:"tls_key"`
	AllowSelfSigned   *bool    `yaml:"allow_self_signed"`
	NoANSI            *bool    `yaml:"no_ansi"`
	LogLevel          string   `yaml:"log_level"`
	MaxDebounceTime   *int     `yaml:"max_debounce_time"`
	MaxConnectionTime *int     `yaml:"max_connection_time"`
}

// merge overlays p on top of fallback: every field p does not set is
// taken from fallback.
func (p partialConfig) merge(fallback partialConfig) partialConfig {
	out := p
	if out.DatabaseURL == "" {
		out.DatabaseURL = fallback.DatabaseURL
	}
	if out.DatabasePrefix == "" {
		out.DatabasePrefix = fallback.DatabasePrefix
	}
	if len(out.RedisURLs) == 0 {
		out.RedisURLs = fallback.RedisURLs
	}
	if out.UpstreamURL == "" {
		out.UpstreamURL = fallback.UpstreamURL
	}
	if out.BindHost == "" {
		out.BindHost = fallback.BindHost
	}
	if out.Port == 0 {
		out.Port = fallback.Port
	}
	if out.SocketPath == "" {
		out.SocketPath = fallback.SocketPath
	}
	if out.SocketPermissions == "" {
		out.SocketPermissions = fallback.SocketPermissions
	}
	if out.MetricsPort == 0 {
		out.MetricsPort = fallback.MetricsPort
	}
	if out.MetricsSocketPath == "" {
		out.MetricsSocketPath = fallback.MetricsSocketPath
	}
	if out.TLSCert == "" {
		out.TLSCert = fallback.TLSCert
	}
	if out.TLSKey == "" {
		out.TLSKey = fallback.TLSKey
	}
	if out.AllowSelfSigned == nil {
		out.AllowSelfSigned = fallback.AllowSelfSigned
	}
	if out.NoANSI == nil {
		out.NoANSI = fallback.NoANSI
	}
	if out.LogLevel == "" {
		out.LogLevel = fallback.LogLevel
	}
	if out.MaxDebounceTime == nil {
		out.MaxDebounceTime = fallback.MaxDebounceTime
	}
	if out.MaxConnectionTime == nil {
		out.MaxConnectionTime = fallback.MaxConnectionTime
	}
	return out
}

func fromFile(path string) (partialConfig, error) {
	var p partialConfig
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return p, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return p, nil
}

// parsePermissions parses a unix socket permission string: exactly
// four octal digits with a leading zero, e.g. "0660".
func parsePermissions(raw string) (fs.FileMode, error) {
	if raw == "" {
		return defaultSocketPermissions, nil
	}
	if len(raw) != 4 || !strings.HasPrefix(raw, "0") {
		return 0, fmt.Errorf("invalid socket permissions %q: expected four octal digits with a leading 0", raw)
	}
	perm, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket permissions %q: %w", raw, err)
	}
	return fs.FileMode(perm), nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// resolve turns the merged partial into a complete Config, applying
// defaults and rejecting inconsistent or missing settings.
func (p partialConfig) resolve() (*Config, error) {
	if p.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured")
	}
	if p.UpstreamURL == "" {
		return nil, fmt.Errorf("no upstream app url configured")
	}
	if len(p.RedisURLs) == 0 {
		return nil, fmt.Errorf("no redis url configured")
	}

	upstreamURL := p.UpstreamURL
	if !strings.HasSuffix(upstreamURL, "/") {
		upstreamURL += "/"
	}

	prefix := p.DatabasePrefix
	if prefix == "" {
		prefix = defaultDatabasePrefix
	}

	permissions, err := parsePermissions(p.SocketPermissions)
	if err != nil {
		return nil, err
	}

	var bind Bind
	if p.SocketPath != "" {
		bind = Bind{SocketPath: p.SocketPath, Permissions: permissions}
	} else {
		host := p.BindHost
		if host == "" {
			host = defaultBindHost
		}
		port := p.Port
		if port == 0 {
			port = defaultPort
		}
		bind = Bind{Addr: fmt.Sprintf("%s:%d", host, port)}
	}

	var metricsBind *Bind
	switch {
	case p.MetricsSocketPath != "":
		metricsBind = &Bind{SocketPath: p.MetricsSocketPath, Permissions: permissions}
	case p.MetricsPort != 0:
		host := p.BindHost
		if host == "" {
			host = defaultBindHost
		}
		metricsBind = &Bind{Addr: fmt.Sprintf("%s:%d", host, p.MetricsPort)}
	}

	if (p.TLSCert != "") != (p.TLSKey != "") {
		return nil, fmt.Errorf("tls requires both a certificate and a key")
	}
	var tlsConfig *TLS
	if p.TLSCert != "" {
		tlsConfig = &TLS{Cert: p.TLSCert, Key: p.TLSKey}
	}

	logLevel := p.LogLevel
	if logLevel == "" {
		logLevel = defaultLogLevel
	}
	if !validLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}

	maxDebounce := defaultMaxDebounceTime
	if p.MaxDebounceTime != nil {
		if *p.MaxDebounceTime < 0 {
			return nil, fmt.Errorf("max debounce time must not be negative")
		}
		maxDebounce = time.Duration(*p.MaxDebounceTime) * time.Second
	}

	var maxConnection time.Duration
	if p.MaxConnectionTime != nil {
		if *p.MaxConnectionTime < 0 {
			return nil, fmt.Errorf("max connection time must not be negative")
		}
		maxConnection = time.Duration(*p.MaxConnectionTime) * time.Second
	}

	return &Config{
		DatabaseURL:       p.DatabaseURL,
		DatabasePrefix:    prefix,
		RedisURLs:         p.RedisURLs,
		UpstreamURL:       upstreamURL,
		Bind:              bind,
		MetricsBind:       metricsBind,
		TLS:               tlsConfig,
		AllowSelfSigned:   p.AllowSelfSigned != nil && *p.AllowSelfSigned,
		LogLevel:          logLevel,
		NoANSI:            p.NoANSI != nil && *p.NoANSI,
		MaxDebounceTime:   maxDebounce,
		MaxConnectionTime: maxConnection,
	}, nil
}
