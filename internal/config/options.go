package config

import (
	kingpin "github.com/alecthomas/kingpin/v2"
)

// Options holds the raw command line state before resolution against
// the environment and the optional config file.
type Options struct {
	ConfigFile string
	DumpConfig bool
	Version    bool

	cli partialConfig
}

// Parse reads command line flags and their environment fallbacks.
// args excludes the program name. Flag values take precedence over
// environment variables; both take precedence over the config file.
func Parse(args []string) (*Options, error) {
	opts := &Options{}
	var (
		allowSelfSigned bool
		noANSI          bool
		maxDebounce     int
		maxConnection   int
	)

	app := kingpin.New("pushgate", "Push notification gateway.")
	app.HelpFlag.Short('h')
	app.Flag("database-url", "The database connect url.").
		Envar("DATABASE_URL").StringVar(&opts.cli.DatabaseURL)
	app.Flag("database-prefix", "The table prefix for the app's database tables.").
		Envar("DATABASE_PREFIX").StringVar(&opts.cli.DatabasePrefix)
	app.Flag("redis-url", "The redis connect url; repeat for a cluster.").
		Envar("REDIS_URL").StringsVar(&opts.cli.RedisURLs)
	app.Flag("upstream-url", "The url the gateway can reach the app on.").
		Envar("UPSTREAM_URL").StringVar(&opts.cli.UpstreamURL)
	app.Flag("bind", "The ip address to bind to.").
		Envar("BIND").StringVar(&opts.cli.BindHost)
	app.Flag("port", "The port to serve on.").Short('p').
		Envar("PORT").IntVar(&opts.cli.Port)
	app.Flag("socket-path", "Listen on a unix socket instead of TCP.").
		Envar("SOCKET_PATH").StringVar(&opts.cli.SocketPath)
	app.Flag("socket-permissions", "File permissions for the unix socket.").
		Envar("SOCKET_PERMISSIONS").StringVar(&opts.cli.SocketPermissions)
	app.Flag("metrics-port", "The port to serve metrics on.").Short('m').
		Envar("METRICS_PORT").IntVar(&opts.cli.MetricsPort)
	app.Flag("metrics-socket-path", "Serve metrics on a unix socket instead of TCP.").
		Envar("METRICS_SOCKET_PATH").StringVar(&opts.cli.MetricsSocketPath)
	app.Flag("tls-cert", "TLS certificate path.").
		Envar("TLS_CERT").StringVar(&opts.cli.TLSCert)
	app.Flag("tls-key", "TLS key path.").
		Envar("TLS_KEY").StringVar(&opts.cli.TLSKey)
	app.Flag("allow-self-signed", "Skip certificate validation when connecting to the app.").
		Envar("ALLOW_SELF_SIGNED").BoolVar(&allowSelfSigned)
	app.Flag("no-ansi", "Disable ansi escape sequences in logging output.").
		Envar("NO_ANSI").BoolVar(&noANSI)
	app.Flag("log-level", "The log level (debug, info, warn, error).").
		Envar("LOG").StringVar(&opts.cli.LogLevel)
	app.Flag("max-debounce-time", "The maximum debounce time between messages, in seconds.").
		Envar("MAX_DEBOUNCE_TIME").Default("-1").IntVar(&maxDebounce)
	app.Flag("max-connection-time", "The maximum connection time, in seconds; zero means unlimited.").
		Envar("MAX_CONNECTION_TIME").Default("-1").IntVar(&maxConnection)
	app.Flag("dump-config", "Print the resolved config and exit.").
		BoolVar(&opts.DumpConfig)
	app.Flag("version", "Print the binary version and exit.").
		BoolVar(&opts.Version)
	app.Arg("config-file", "Path to a YAML config file.").
		StringVar(&opts.ConfigFile)

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	// Booleans and the sentinel ints only count as set when the flag
	// (or its env var) was actually given, so the config file can still
	// supply them.
	if allowSelfSigned {
		opts.cli.AllowSelfSigned = &allowSelfSigned
	}
	if noANSI {
		opts.cli.NoANSI = &noANSI
	}
	if maxDebounce >= 0 {
		opts.cli.MaxDebounceTime = &maxDebounce
	}
	if maxConnection >= 0 {
		opts.cli.MaxConnectionTime = &maxConnection
	}

	return opts, nil
}

// Resolve merges flags/env with the config file and applies defaults.
func (o *Options) Resolve() (*Config, error) {
	merged := o.cli
	if o.ConfigFile != "" {
		fileConfig, err := fromFile(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		merged = merged.merge(fileConfig)
	}
	return merged.resolve()
}
