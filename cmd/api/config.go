package main

import (
	"flag"
	"strings"

	"livetrail.dev/internal/appconf"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseConfig layers the configuration: built-in defaults, then the YAML
// file named by -config, then any flag given explicitly on the command line.
func parseConfig(args []string) (appconf.Config, error) {
	defaults := appconf.Default()
	fs := flag.NewFlagSet("livetrail", flag.ContinueOnError)

	var (
		configPath string
		envFlag    string
		apiKeys    string
		brokers    string
		flags      = defaults
	)

	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	fs.IntVar(&flags.Port, "port", defaults.Port, "API server port")
	fs.StringVar(&envFlag, "env", defaults.Env.String(), "Environment (development|test|production)")
	fs.StringVar(&apiKeys, "api-keys", strings.Join(defaults.ApiKeys, ","), "Comma Separated API Keys (test, etc)")
	fs.IntVar(&flags.RateLimit, "rate-limit", defaults.RateLimit, "Requests per second per API key (0 disables)")
	fs.StringVar(&flags.LogLevel, "log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")

	fs.Float64Var(&flags.Engine.MinDisplacementMeters, "min-displacement", defaults.Engine.MinDisplacementMeters, "Minimum distance in meters between accepted points")
	fs.IntVar(&flags.Engine.PollIntervalMs, "poll-interval-ms", defaults.Engine.PollIntervalMs, "Fix source poll interval")
	fs.IntVar(&flags.Engine.PollTimeoutMs, "poll-timeout-ms", defaults.Engine.PollTimeoutMs, "Fix source poll timeout")
	fs.StringVar(&flags.Engine.SnapServiceEndpoint, "snap-endpoint", defaults.Engine.SnapServiceEndpoint, "OSRM-compatible routing endpoint (empty disables snapping)")
	fs.StringVar(&flags.Engine.SnapServiceCredential, "snap-credential", defaults.Engine.SnapServiceCredential, "Routing service access token")
	fs.StringVar(&flags.Engine.SnapProfile, "snap-profile", defaults.Engine.SnapProfile, "Routing profile")
	fs.IntVar(&flags.Engine.SnapTimeoutMs, "snap-timeout-ms", defaults.Engine.SnapTimeoutMs, "Routing request timeout")
	fs.Float64Var(&flags.Engine.SnapRatePerSecond, "snap-rate", defaults.Engine.SnapRatePerSecond, "Routing requests per second (0 disables limiting)")

	fs.StringVar(&flags.Source.Kind, "source", defaults.Source.Kind, "Fix source (firebase|kafka)")
	fs.StringVar(&flags.Source.Firebase.DatabaseURL, "firebase-url", defaults.Source.Firebase.DatabaseURL, "Firebase Realtime Database URL")
	fs.StringVar(&flags.Source.Firebase.Root, "firebase-root", defaults.Source.Firebase.Root, "Firebase node holding the day buckets")
	fs.StringVar(&flags.Source.Firebase.Credential, "firebase-credential", defaults.Source.Firebase.Credential, "Firebase auth token")
	fs.StringVar(&flags.Source.Firebase.TimeZone, "firebase-tz", defaults.Source.Firebase.TimeZone, "Time zone the bucket keys are written in")
	fs.StringVar(&brokers, "kafka-brokers", "", "Comma separated Kafka brokers (host:port)")
	fs.StringVar(&flags.Source.Kafka.Topic, "kafka-topic", defaults.Source.Kafka.Topic, "Kafka topic carrying fixes")
	fs.StringVar(&flags.Source.Kafka.GroupID, "kafka-group", defaults.Source.Kafka.GroupID, "Kafka consumer group")

	fs.StringVar(&flags.Store.Path, "db-path", defaults.Store.Path, "SQLite file for the trail, or :memory:")

	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, err
	}

	cfg := defaults
	if configPath != "" {
		var err error
		if cfg, err = appconf.LoadFile(configPath); err != nil {
			return appconf.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flags.Port
		case "env":
			cfg.Env = appconf.EnvFlagToEnvironment(envFlag)
		case "api-keys":
			cfg.ApiKeys = splitList(apiKeys)
		case "rate-limit":
			cfg.RateLimit = flags.RateLimit
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "min-displacement":
			cfg.Engine.MinDisplacementMeters = flags.Engine.MinDisplacementMeters
		case "poll-interval-ms":
			cfg.Engine.PollIntervalMs = flags.Engine.PollIntervalMs
		case "poll-timeout-ms":
			cfg.Engine.PollTimeoutMs = flags.Engine.PollTimeoutMs
		case "snap-endpoint":
			cfg.Engine.SnapServiceEndpoint = flags.Engine.SnapServiceEndpoint
		case "snap-credential":
			cfg.Engine.SnapServiceCredential = flags.Engine.SnapServiceCredential
		case "snap-profile":
			cfg.Engine.SnapProfile = flags.Engine.SnapProfile
		case "snap-timeout-ms":
			cfg.Engine.SnapTimeoutMs = flags.Engine.SnapTimeoutMs
		case "snap-rate":
			cfg.Engine.SnapRatePerSecond = flags.Engine.SnapRatePerSecond
		case "source":
			cfg.Source.Kind = flags.Source.Kind
		case "firebase-url":
			cfg.Source.Firebase.DatabaseURL = flags.Source.Firebase.DatabaseURL
		case "firebase-root":
			cfg.Source.Firebase.Root = flags.Source.Firebase.Root
		case "firebase-credential":
			cfg.Source.Firebase.Credential = flags.Source.Firebase.Credential
		case "firebase-tz":
			cfg.Source.Firebase.TimeZone = flags.Source.Firebase.TimeZone
		case "kafka-brokers":
			cfg.Source.Kafka.Brokers = splitList(brokers)
		case "kafka-topic":
			cfg.Source.Kafka.Topic = flags.Source.Kafka.Topic
		case "kafka-group":
			cfg.Source.Kafka.GroupID = flags.Source.Kafka.GroupID
		case "db-path":
			cfg.Store.Path = flags.Store.Path
		}
	})

	if err := cfg.Validate(); err != nil {
		return appconf.Config{}, err
	}
	return cfg, nil
}
