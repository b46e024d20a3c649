package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains application configuration
type Config struct {
	RunAddress         string
	DatabaseURI        string
	JWTSecret          string
	NotifyURL          string
	CampusTimeZone     string
	BadgesFile         string
	AllowRepeatRatings bool
	HelperMayCancel    bool
	BadgeSweepInterval time.Duration
	LeaderboardSize    int
	LogJSON            bool
}

// NewConfig creates a new configuration from flags and environment variables.
// A .env file in the working directory, if any, is loaded into the environment first.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Args[1:], os.Getenv)
}

// Load parses args, then lets non-empty environment variables override them
func Load(args []string, getenv func(string) string) (*Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("errands", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", ":8080", "Server run address")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "Database URI (empty keeps data in memory)")
	fs.StringVar(&cfg.JWTSecret, "k", "", "JWT signing secret")
	fs.StringVar(&cfg.NotifyURL, "n", "", "Webhook URL receiving lifecycle events")
	fs.StringVar(&cfg.CampusTimeZone, "tz", "UTC", "Campus time zone for night and weekend badges")
	fs.StringVar(&cfg.BadgesFile, "badges", "", "JSON badge catalog (empty uses the built-in catalog)")
	fs.BoolVar(&cfg.AllowRepeatRatings, "repeat-ratings", false, "Allow more than one rating per rater and request")
	fs.BoolVar(&cfg.HelperMayCancel, "helper-cancel", true, "Let the assigned helper cancel an accepted request")
	fs.DurationVar(&cfg.BadgeSweepInterval, "sweep", time.Minute, "Leaderboard badge sweep interval (0 disables)")
	fs.IntVar(&cfg.LeaderboardSize, "top", 10, "Leaderboard size")
	fs.BoolVar(&cfg.LogJSON, "log-json", false, "Log as JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with env vars if present
	if v := getenv("RUN_ADDRESS"); v != "" {
		cfg.RunAddress = v
	}
	if v := getenv("DATABASE_URI"); v != "" {
		cfg.DatabaseURI = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv("NOTIFY_URL"); v != "" {
		cfg.NotifyURL = v
	}
	if v := getenv("CAMPUS_TZ"); v != "" {
		cfg.CampusTimeZone = v
	}
	if v := getenv("BADGES_FILE"); v != "" {
		cfg.BadgesFile = v
	}

	var err error
	if cfg.AllowRepeatRatings, err = envBool(getenv, "ALLOW_REPEAT_RATINGS", cfg.AllowRepeatRatings); err != nil {
		return nil, err
	}
	if cfg.HelperMayCancel, err = envBool(getenv, "HELPER_MAY_CANCEL", cfg.HelperMayCancel); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = envBool(getenv, "LOG_JSON", cfg.LogJSON); err != nil {
		return nil, err
	}
	if v := getenv("BADGE_SWEEP_INTERVAL"); v != "" {
		if cfg.BadgeSweepInterval, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("BADGE_SWEEP_INTERVAL: %w", err)
		}
	}
	if v := getenv("LEADERBOARD_SIZE"); v != "" {
		if cfg.LeaderboardSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("LEADERBOARD_SIZE: %w", err)
		}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("a JWT secret is required (-k or JWT_SECRET)")
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = 10
	}

	return &cfg, nil
}

// Location resolves the campus time zone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.CampusTimeZone)
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
