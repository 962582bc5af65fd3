package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
// Components receive typed values from here; none of them read the environment.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Bridge   BridgeConfig
	Analysis AnalysisConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is the externally reachable origin the provider posts webhooks to.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. Without it, poll leases and call events are process-local.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	EventsChannel string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// TwilioConfig may be empty; call placement then fails with a configuration error.
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	RecordingHost string
}

type BridgeConfig struct {
	RingTimeout       time.Duration
	DefaultFrom       string
	DefaultAgentPhone string
	Record            bool
	MachineDetection  string
}

// MachineDetectionParam is the value passed to the provider; "off" (or "none",
// "false", "disabled") turns detection off.
func (b BridgeConfig) MachineDetectionParam() string {
	switch strings.ToLower(b.MachineDetection) {
	case "off", "none", "false", "disabled":
		return ""
	}
	return b.MachineDetection
}

type AnalysisConfig struct {
	BaseURL        string
	APIKey         string
	PollInterval   time.Duration
	PollCeiling    time.Duration
	RequestTimeout time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = requiredInt(parseErrs, "APP_PORT")
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.EventsChannel = strings.TrimSpace(os.Getenv("REDIS_EVENTS_CHANNEL"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.RecordingHost = strings.TrimSpace(os.Getenv("TWILIO_RECORDING_HOST"))

	c.Bridge.RingTimeout, parseErrs = optionalDuration(parseErrs, "BRIDGE_RING_TIMEOUT")
	c.Bridge.DefaultFrom = strings.TrimSpace(os.Getenv("BRIDGE_DEFAULT_FROM"))
	c.Bridge.DefaultAgentPhone = strings.TrimSpace(os.Getenv("BRIDGE_DEFAULT_AGENT_PHONE"))
	c.Bridge.Record, parseErrs = optionalBool(parseErrs, "BRIDGE_RECORD", true)
	c.Bridge.MachineDetection = strings.TrimSpace(os.Getenv("BRIDGE_MACHINE_DETECTION"))

	c.Analysis.BaseURL = strings.TrimSpace(os.Getenv("ANALYSIS_BASE_URL"))
	c.Analysis.APIKey = os.Getenv("ANALYSIS_API_KEY")
	c.Analysis.PollInterval, parseErrs = optionalDuration(parseErrs, "ANALYSIS_POLL_INTERVAL")
	c.Analysis.PollCeiling, parseErrs = optionalDuration(parseErrs, "ANALYSIS_POLL_CEILING")
	c.Analysis.RequestTimeout, parseErrs = optionalDuration(parseErrs, "ANALYSIS_POLL_REQUEST_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional settings. Production must still set DB_SSLMODE explicitly.
func (c *Config) ApplyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Redis.EventsChannel == "" {
		c.Redis.EventsChannel = "crm:calls:events"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Twilio.RecordingHost == "" {
		c.Twilio.RecordingHost = "api.twilio.com"
	}
	if c.Bridge.RingTimeout <= 0 {
		c.Bridge.RingTimeout = 30 * time.Second
	}
	if c.Bridge.MachineDetection == "" {
		c.Bridge.MachineDetection = "Enable"
	}
	if c.Analysis.PollInterval <= 0 {
		c.Analysis.PollInterval = 4 * time.Second
	}
	if c.Analysis.PollCeiling <= 0 {
		c.Analysis.PollCeiling = 5 * time.Minute
	}
	if c.Analysis.RequestTimeout <= 0 {
		c.Analysis.RequestTimeout = 10 * time.Second
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.App.PublicBaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must use https in production"))
	}

	if c.DB.Host == "" {
		if c.App.Env != "local" && c.App.Env != "dev" {
			errs = append(errs, errors.New("DB_HOST is required outside local/dev"))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}

	if c.Analysis.BaseURL != "" {
		if u, err := url.Parse(c.Analysis.BaseURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("ANALYSIS_BASE_URL must be an absolute URL, got %q", c.Analysis.BaseURL))
		}
	}
	if c.Analysis.PollCeiling < c.Analysis.PollInterval {
		errs = append(errs, errors.New("ANALYSIS_POLL_CEILING must not be shorter than ANALYSIS_POLL_INTERVAL"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UseMemoryStore reports whether calls are kept in process memory (local/dev without DB_HOST).
func (c Config) UseMemoryStore() bool {
	return c.DB.Host == ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func requiredInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, append(errs, fmt.Errorf("%s is required", key))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalInt(errs []error, key string, def int) (int, []error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, errs
	}
	return requiredInt(errs, key)
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration (e.g. 30s), got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
