package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/risk"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Environment string
	LogLevel    string
	LogPretty   bool

	// HTTP
	HTTPAddr        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	// Scheduler
	TickInterval      time.Duration
	HistorySize       int
	Workers           int
	QueueSize         int
	SideEffectTimeout time.Duration

	// Simulated campus day
	SimClock     bool
	SimStep      time.Duration
	SimStartHour int
	SimEndHour   int

	// Prediction model
	ModelEndpoint       string // http(s)://host:port or grpc://host:port, empty: formula only
	ModelZones          []string
	ModelWeight         float64
	ModelTimeout        time.Duration
	ForecastHorizon     time.Duration
	ModelBreakerFails   int
	ModelBreakerOpenFor time.Duration

	// Scoring and alerting
	PeakBands        string
	CapacityFloor    int
	CriticalCRI      int
	HighCRI          int
	SurgeThreshold   float64
	ThrottleInterval time.Duration
	OrganizerRole    string

	// Persistence
	StoreBackend string // memory | influx
	MemoryCap    int
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// MQTT (RabbitMQ MQTT plugin)
	MQTTEnabled      bool
	MQTTHost         string
	MQTTPort         int
	MQTTUser         string
	MQTTPassword     string
	MQTTClientID     string
	MQTTMaxRetries   int
	ObservationTopic string
	SnapshotTopic    string
	AlertTopic       string
	ObservationTTL   time.Duration

	// Email
	SMTPHost      string
	SMTPPort      int
	EmailAddress  string
	EmailPassword string
	DashboardURL  string

	ZonesPath  string
	EventsPath string

	Zones  []entities.Zone
	Events []entities.Event
}

// Load reads .env (if present) and the environment, then the zone and event
// files, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := FromEnv()

	zones, err := LoadZones(cfg.ZonesPath)
	if err != nil {
		return nil, err
	}
	cfg.Zones = zones

	evs, err := LoadEvents(cfg.EventsPath)
	if err != nil {
		return nil, err
	}
	cfg.Events = evs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables only.
func FromEnv() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvBool("LOG_PRETTY", false),

		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		TickInterval:      getEnvDuration("TICK_INTERVAL", 2*time.Second),
		HistorySize:       getEnvInt("HISTORY_SIZE", 20),
		Workers:           getEnvInt("SIDE_EFFECT_WORKERS", 4),
		QueueSize:         getEnvInt("SIDE_EFFECT_QUEUE", 256),
		SideEffectTimeout: getEnvDuration("SIDE_EFFECT_TIMEOUT", 10*time.Second),

		SimClock:     getEnvBool("SIM_CLOCK", false),
		SimStep:      getEnvDuration("SIM_STEP", 5*time.Minute),
		SimStartHour: getEnvInt("SIM_START_HOUR", 8),
		SimEndHour:   getEnvInt("SIM_END_HOUR", 20),

		ModelEndpoint:       getEnv("MODEL_ENDPOINT", ""),
		ModelZones:          getEnvList("MODEL_ZONES", nil),
		ModelWeight:         getEnvFloat("MODEL_WEIGHT", 1),
		ModelTimeout:        getEnvDuration("MODEL_TIMEOUT", 500*time.Millisecond),
		ForecastHorizon:     getEnvDuration("FORECAST_HORIZON", 30*time.Minute),
		ModelBreakerFails:   getEnvInt("MODEL_BREAKER_FAILURES", 3),
		ModelBreakerOpenFor: getEnvDuration("MODEL_BREAKER_OPEN_FOR", 30*time.Second),

		PeakBands:        getEnv("PEAK_BANDS", "9-10,12-14"),
		CapacityFloor:    getEnvInt("CRI_CAPACITY_FLOOR", 85),
		CriticalCRI:      getEnvInt("CRI_CRITICAL_THRESHOLD", 85),
		HighCRI:          getEnvInt("CRI_HIGH_THRESHOLD", 70),
		SurgeThreshold:   getEnvFloat("SURGE_THRESHOLD", 0.30),
		ThrottleInterval: getEnvDuration("THROTTLE_INTERVAL", 15*time.Minute),
		OrganizerRole:    getEnv("ORGANIZER_ROLE", entities.RoleOrganizer),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		MemoryCap:    getEnvInt("MEMORY_STORE_CAP", 5000),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", ""),
		InfluxBucket: getEnv("INFLUX_BUCKET", ""),

		MQTTEnabled:      getEnvBool("MQTT_ENABLED", false),
		MQTTHost:         getEnv("MQTT_HOST", "rabbitmq"),
		MQTTPort:         getEnvInt("MQTT_PORT", 1883),
		MQTTUser:         getEnv("MQTT_USER", "guest"),
		MQTTPassword:     getEnv("MQTT_PASSWORD", "guest"),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "crowdsense-monitor"),
		MQTTMaxRetries:   getEnvInt("MQTT_MAX_RETRIES", 5),
		ObservationTopic: getEnv("OBSERVATION_TOPIC", "crowd/observations/#"),
		SnapshotTopic:    getEnv("SNAPSHOT_TOPIC", "crowd/snapshot"),
		AlertTopic:       getEnv("ALERT_TOPIC", "event/alert"),
		ObservationTTL:   getEnvDuration("OBSERVATION_TTL", time.Minute),

		SMTPHost:      getEnv("SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		EmailAddress:  getEnv("EMAIL_ADDRESS", ""),
		EmailPassword: getEnv("EMAIL_PASSWORD", ""),
		DashboardURL:  getEnv("DASHBOARD_URL", "http://localhost:5173/events"),

		ZonesPath:  getEnv("ZONES_CONFIG_PATH", ""),
		EventsPath: getEnv("EVENTS_CONFIG_PATH", ""),
	}
}

// Validate reports every problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.TickInterval <= 0 {
		bad("TICK_INTERVAL must be positive")
	}
	if c.HistorySize < 5 {
		bad("HISTORY_SIZE must be at least 5, got %d", c.HistorySize)
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		bad("side effect workers and queue must be positive")
	}
	if c.ModelWeight <= 0 || c.ModelWeight > 1 {
		bad("MODEL_WEIGHT must be in (0,1], got %v", c.ModelWeight)
	}
	if c.SurgeThreshold <= 0 {
		bad("SURGE_THRESHOLD must be positive")
	}
	if c.ThrottleInterval <= 0 {
		bad("THROTTLE_INTERVAL must be positive")
	}
	if c.CapacityFloor < 0 || c.CapacityFloor > 100 {
		bad("CRI_CAPACITY_FLOOR must be in [0,100], got %d", c.CapacityFloor)
	}
	if c.HighCRI > c.CriticalCRI {
		bad("CRI_HIGH_THRESHOLD above CRI_CRITICAL_THRESHOLD")
	}
	if _, err := risk.ParseBands(c.PeakBands); err != nil {
		errs = append(errs, fmt.Errorf("%w: PEAK_BANDS: %w", ErrInvalidConfig, err))
	}
	if c.SimClock && (c.SimStartHour < 0 || c.SimEndHour > 23 || c.SimStartHour >= c.SimEndHour) {
		bad("simulated day %d-%d is not a valid range", c.SimStartHour, c.SimEndHour)
	}

	switch c.StoreBackend {
	case "memory":
	case "influx":
		if c.InfluxURL == "" || c.InfluxToken == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
			bad("STORE_BACKEND=influx needs INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET")
		}
	default:
		bad("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if err := validateZones(c.Zones); err != nil {
		errs = append(errs, err)
	}
	known := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		known[z.ID] = true
	}
	for _, e := range c.Events {
		if !known[e.ZoneID] {
			bad("event %q references unknown zone %q", e.ID, e.ZoneID)
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
