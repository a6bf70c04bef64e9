package common

import "github.com/spf13/viper"

// ===============================================================================
// Change Feed Related Config

// PostgresFeedConfig defines parameters for receiving change notifications
// directly from Postgres via LISTEN / NOTIFY
type PostgresFeedConfig struct {
	// DSN is the Postgres connection string
	DSN string `mapstructure:"dsn" json:"dsn" validate:"required"`
	// NotifyChannel is the NOTIFY channel the row-change trigger publishes on
	NotifyChannel string `mapstructure:"notify_channel" json:"notify_channel" validate:"required"`
	// MinReconnectInterval is the min duration between reconnect attempts in seconds
	MinReconnectInterval int `mapstructure:"min_reconnect_interval_sec" json:"min_reconnect_interval_sec" validate:"gte=1"`
	// MaxReconnectInterval is the max duration between reconnect attempts in seconds
	MaxReconnectInterval int `mapstructure:"max_reconnect_interval_sec" json:"max_reconnect_interval_sec" validate:"gte=1"`
}

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSFeedConfig defines parameters for receiving change notifications through
// a NATS subject bridge
type NATSFeedConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// Subject is the NATS subject the change feed is re-published on
	Subject string `mapstructure:"subject" json:"subject" validate:"required"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ChangeFeedConfig defines the upstream change feed parameters
type ChangeFeedConfig struct {
	// Mode selects the change feed transport
	Mode string `mapstructure:"mode" json:"mode" validate:"required,oneof=postgres nats"`
	// TaskTable is the name of the campaign task table
	TaskTable string `mapstructure:"task_table" json:"task_table" validate:"required"`
	// HistoryTable is the name of the phase history table
	HistoryTable string `mapstructure:"history_table" json:"history_table" validate:"required"`
	// WatchdogInterval is the duration in seconds after which a silent feed
	// is reported. Zero disables the watchdog.
	WatchdogInterval int `mapstructure:"watchdog_interval_sec" json:"watchdog_interval_sec" validate:"gte=0"`
	// Postgres are the Postgres LISTEN / NOTIFY parameters
	Postgres *PostgresFeedConfig `mapstructure:"postgres,omitempty" json:"postgres,omitempty" validate:"omitempty,dive"`
	// NATS are the NATS bridge parameters
	NATS *NATSFeedConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// CORSAllowedOrigins is the list of origins allowed to open event streams.
	// An empty list disables CORS handling.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" json:"cors_allowed_origins"`
}

// ===============================================================================
// Events API Server Related Config

// EventsEndpointConfig defines events API endpoint config
type EventsEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the events APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// EventsServerConfig defines configuration for the events API server
type EventsServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the events API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the events API server
	Endpoints EventsEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// KeepAliveInterval is the duration between stream keepalive frames in seconds
	KeepAliveInterval int `mapstructure:"keepalive_interval_sec" json:"keepalive_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// Feed are the upstream change feed config parameters
	Feed ChangeFeedConfig `mapstructure:"feed" json:"feed" validate:"required,dive"`
	// Events are the events API server configs
	Events EventsServerConfig `mapstructure:"events" json:"events" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default change feed settings
	viper.SetDefault("feed.mode", "postgres")
	viper.SetDefault("feed.task_table", "campaign_tasks")
	viper.SetDefault("feed.history_table", "phase_history")
	viper.SetDefault("feed.watchdog_interval_sec", 300)
	viper.SetDefault("feed.postgres.dsn", "postgres://127.0.0.1:5432/campaigns?sslmode=disable")
	viper.SetDefault("feed.postgres.notify_channel", "record_changes")
	viper.SetDefault("feed.postgres.min_reconnect_interval_sec", 10)
	viper.SetDefault("feed.postgres.max_reconnect_interval_sec", 60)

	// Default events server settings
	viper.SetDefault("events.endpoint_config.path_prefix", "/")
	viper.SetDefault("events.keepalive_interval_sec", 30)
	viper.SetDefault("events.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("events.api_server.server_config.listen_port", 3000)
	viper.SetDefault("events.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("events.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"events.api_server.logging_config.request_id_header", "Beacon-Request-ID",
	)
	viper.SetDefault(
		"events.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
