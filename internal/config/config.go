// Package config provides YAML and environment based configuration loading
// for the question-of-the-day bot.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // default timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a missing or invalid setting. It is fatal and reported
// before any platform call is made.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration, loaded from qotd.yaml and the
// environment (environment wins).
type Config struct {
	Platform           string         `yaml:"platform"`
	Slack              SlackConfig    `yaml:"slack"`
	Discord            DiscordConfig  `yaml:"discord"`
	SourceChannel      string         `yaml:"source_channel"`
	DestinationChannel string         `yaml:"destination_channel"`
	RecipientCount     int            `yaml:"recipient_count"`
	ExcludeUsers       []string       `yaml:"exclude_users"`
	BotUserID          string         `yaml:"bot_user_id"`
	Timezone           string         `yaml:"timezone"`
	Questions          []string       `yaml:"questions"`
	QuestionsFile      string         `yaml:"questions_file"`
	Announcement       string         `yaml:"announcement"`
	PendingMaxAge      time.Duration  `yaml:"pending_max_age"`
	RequestTimeout     time.Duration  `yaml:"request_timeout"`
	Ledger             LedgerConfig   `yaml:"ledger"`
	Schedule           ScheduleConfig `yaml:"schedule"`
	Status             StatusConfig   `yaml:"status"`

	location *time.Location
}

// SlackConfig holds Slack credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// LedgerConfig selects where the ledger is persisted.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // file, sqlite, mysql
	Path   string `yaml:"path"`   // file driver
	DSN    string `yaml:"dsn"`    // sqlite path or mysql DSN
}

// ScheduleConfig holds the cron expressions used by the daemon.
type ScheduleConfig struct {
	Ask     string `yaml:"ask"`
	Collect string `yaml:"collect"`
}

// StatusConfig configures the daemon's status HTTP server.
type StatusConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// Defaults.
const (
	DefaultPlatform        = "slack"
	DefaultRecipientCount  = 3
	DefaultTimezone        = "Asia/Tokyo"
	DefaultLedgerDriver    = "file"
	DefaultLedgerPath      = "state/state.json"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultAnnouncement    = "Question of the day answers for {date}"
	DefaultAskSchedule     = "0 10 * * 1-5"
	DefaultCollectSchedule = "*/30 * * * *"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

func noEnv(string) (string, bool) { return "", false }

// Load reads a .env file if present, the YAML config at path (skipped when
// path is empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	var data []byte
	baseDir := "."
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}
	return ParseWithEnv(data, os.LookupEnv, baseDir)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return ParseWithEnv(data, noEnv, ".")
}

// ParseWithEnv unmarshals YAML bytes, applies overrides from lookup, loads
// the questions file relative to baseDir, and validates the result.
func ParseWithEnv(data []byte, lookup LookupFunc, baseDir string) (*Config, error) {
	// Defaults that a present-but-zero key must not trigger are set up front.
	cfg := Config{RecipientCount: DefaultRecipientCount}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	var errs []string
	errs = append(errs, cfg.applyEnv(lookup)...)
	if cfg.QuestionsFile != "" {
		path := cfg.QuestionsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		qs, err := LoadQuestions(path)
		if err != nil {
			errs = append(errs, err.Error())
		}
		cfg.Questions = append(cfg.Questions, qs...)
	}
	cfg.applyDefaults()
	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return &cfg, nil
}

// applyEnv overrides fields from environment variables. It returns a
// problem description for each unparsable value.
func (c *Config) applyEnv(lookup LookupFunc) []string {
	var errs []string
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	str(&c.Platform, "QOTD_PLATFORM")
	str(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	str(&c.Discord.BotToken, "DISCORD_BOT_TOKEN")
	str(&c.SourceChannel, "QOTD_SOURCE_CHANNEL", "SLACK_CHANNEL_ID")
	str(&c.DestinationChannel, "QOTD_DESTINATION_CHANNEL")
	str(&c.BotUserID, "QOTD_BOT_USER_ID", "SLACK_BOT_USER_ID")
	str(&c.Timezone, "QOTD_TIMEZONE")
	str(&c.QuestionsFile, "QOTD_QUESTIONS_FILE")
	str(&c.Announcement, "QOTD_ANNOUNCEMENT")
	str(&c.Ledger.Driver, "QOTD_LEDGER_DRIVER")
	str(&c.Ledger.Path, "QOTD_LEDGER_PATH")
	str(&c.Ledger.DSN, "QOTD_LEDGER_DSN")
	str(&c.Schedule.Ask, "QOTD_ASK_CRON")
	str(&c.Schedule.Collect, "QOTD_COLLECT_CRON")
	dur(&c.PendingMaxAge, "QOTD_PENDING_MAX_AGE")
	dur(&c.RequestTimeout, "QOTD_REQUEST_TIMEOUT")

	if v, ok := lookup("QOTD_RECIPIENT_COUNT"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("QOTD_RECIPIENT_COUNT: %v", err))
		case n < 1:
			errs = append(errs, "QOTD_RECIPIENT_COUNT must be >= 1")
		default:
			c.RecipientCount = n
		}
	}
	if v, ok := lookup("QOTD_STATUS_PORT"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("QOTD_STATUS_PORT: %v", err))
		} else {
			c.Status.Port = n
		}
	}
	if v, ok := lookup("QOTD_EXCLUDE_USERS"); ok {
		c.ExcludeUsers = splitList(v)
	}
	return errs
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.DestinationChannel == "" {
		c.DestinationChannel = c.SourceChannel
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Announcement == "" {
		c.Announcement = DefaultAnnouncement
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DefaultLedgerDriver
	}
	if c.Ledger.Driver == "file" && c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath
	}
	if c.Schedule.Ask == "" {
		c.Schedule.Ask = DefaultAskSchedule
	}
	if c.Schedule.Collect == "" {
		c.Schedule.Collect = DefaultCollectSchedule
	}

	var qs []string
	for _, q := range c.Questions {
		if q = strings.TrimSpace(q); q != "" {
			qs = append(qs, q)
		}
	}
	c.Questions = qs
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() []string {
	var errs []string
	switch c.Platform {
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token (SLACK_BOT_TOKEN) is required")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token (DISCORD_BOT_TOKEN) is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (slack, discord)", c.Platform))
	}
	if c.SourceChannel == "" {
		errs = append(errs, "source_channel (SLACK_CHANNEL_ID) is required")
	}
	if c.RecipientCount < 1 {
		errs = append(errs, "recipient_count must be >= 1")
	}
	if len(c.Questions) == 0 {
		errs = append(errs, "at least one question is required (questions or questions_file)")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	} else {
		c.location = loc
	}
	if c.PendingMaxAge < 0 {
		errs = append(errs, "pending_max_age must not be negative")
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, "request_timeout must not be negative")
	}
	switch c.Ledger.Driver {
	case "file":
	case "sqlite", "mysql":
		if c.Ledger.DSN == "" {
			errs = append(errs, fmt.Sprintf("ledger.dsn is required for driver %q", c.Ledger.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.driver %q is not supported (file, sqlite, mysql)", c.Ledger.Driver))
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 0 and 65535")
	}
	return errs
}

// Location returns the timezone used for daily thread keys.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// BotToken returns the token for the configured platform.
func (c *Config) BotToken() string {
	if c.Platform == "discord" {
		return c.Discord.BotToken
	}
	return c.Slack.BotToken
}

// LoadQuestions reads a question bank. Files ending in .yaml or .yml hold a
// YAML list; anything else is one question per line, where blank lines and
// lines starting with # are ignored.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questions file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var qs []string
		if err := yaml.Unmarshal(data, &qs); err != nil {
			return nil, fmt.Errorf("questions file %s: %w", path, err)
		}
		return qs, nil
	}

	var qs []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		qs = append(qs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("questions file %s: %w", path, err)
	}
	return qs, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
