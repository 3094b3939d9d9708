package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds chaos configuration
type Config struct {
	Enabled    bool
	Profile    string
	TargetPath string
	DropPct    int
	DelayMsMin int
	DelayMsMax int
	Seed       int64
	WindowMs   int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Enabled:    getEnvAsBool("CHAOS_ENABLED", false),
		Profile:    getEnvAsString("CHAOS_PROFILE", ""),
		TargetPath: getEnvAsString("CHAOS_TARGET_PATH", ""),
		DropPct:    getEnvAsInt("CHAOS_DROP_PCT", 0),
		DelayMsMin: getEnvAsInt("CHAOS_DELAY_MS_MIN", 0),
		DelayMsMax: getEnvAsInt("CHAOS_DELAY_MS_MAX", 0),
		Seed:       getEnvAsInt64("CHAOS_SEED", 1),
		WindowMs:   getEnvAsInt("CHAOS_WINDOW_MS", 0),
	}
}

// ParseProfile parses a profile string like "drop-pct=30,delay=50-250"
func ParseProfile(profile string) (dropPct int, delayMin int, delayMax int, err error) {
	if profile == "" {
		return 0, 0, 0, nil
	}

	parts := strings.Split(profile, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "drop-pct=") {
			val := strings.TrimPrefix(part, "drop-pct=")
			dropPct, err = strconv.Atoi(val)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("invalid drop-pct: %w", err)
			}
		} else if strings.HasPrefix(part, "delay=") {
			val := strings.TrimPrefix(part, "delay=")
			delayParts := strings.Split(val, "-")
			if len(delayParts) != 2 {
				return 0, 0, 0, fmt.Errorf("invalid delay range %q", val)
			}
			delayMin, err = strconv.Atoi(delayParts[0])
			if err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay min: %w", err)
			}
			delayMax, err = strconv.Atoi(delayParts[1])
			if err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay max: %w", err)
			}
			if delayMax < delayMin {
				return 0, 0, 0, fmt.Errorf("delay max %d below min %d", delayMax, delayMin)
			}
		} else if part != "" {
			return 0, 0, 0, fmt.Errorf("unknown chaos setting %q", part)
		}
	}

	return dropPct, delayMin, delayMax, nil
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
