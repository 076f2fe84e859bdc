package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	// Credential directory written by the issuing tool.
	CredentialsPath string
	ReloadInterval  time.Duration

	// Audit
	LogDir      string // daily workbooks, log_YYYY-MM-DD.xlsx
	AuditDBPath string // sqlite mirror; "" disables it

	// Audit mirror retention
	AuditRetentionDays int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)

	// Scan cycle
	ScanCooldown time.Duration
	ScanTimeout  time.Duration
	FailClosed   bool

	// Camera
	CameraIndices []int
	CameraBackoff time.Duration
	CameraWidth   int
	CameraHeight  int
	CameraFPS     int

	// Admin surfaces; "" disables the listener.
	HTTPAddr string
	GRPCAddr string

	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json
}

func FromEnv() Config {
	logFormat := strings.ToLower(getenvDefault("UPIC_LOG_FORMAT", "text"))
	if logFormat != "text" && logFormat != "json" {
		// fail-soft: treat unknown as text
		logFormat = "text"
	}

	indices := splitInts(os.Getenv("UPIC_CAMERA_INDICES"))
	if len(indices) == 0 {
		indices = []int{0, 1, 2}
	}

	return Config{
		CredentialsPath: getenvDefault("UPIC_DB_PATH", "./database/data_user.md"),
		ReloadInterval:  getenvDuration("UPIC_RELOAD_INTERVAL", 30*time.Second),

		LogDir:      getenvDefault("UPIC_LOG_DIR", "./database/log_kkp"),
		AuditDBPath: strings.TrimSpace(os.Getenv("UPIC_AUDIT_DB")),

		AuditRetentionDays: getenvInt("UPIC_AUDIT_RETENTION_DAYS", 0),
		PruneIntervalHours: getenvInt("UPIC_PRUNE_INTERVAL_HOURS", 6),

		ScanCooldown: getenvDuration("UPIC_SCAN_COOLDOWN", 5*time.Second),
		ScanTimeout:  getenvDuration("UPIC_SCAN_TIMEOUT", 10*time.Second),
		FailClosed:   getenvBool("UPIC_FAIL_CLOSED"),

		CameraIndices: indices,
		CameraBackoff: getenvDuration("UPIC_CAMERA_BACKOFF", 2*time.Second),
		CameraWidth:   getenvInt("UPIC_CAMERA_WIDTH", 1280),
		CameraHeight:  getenvInt("UPIC_CAMERA_HEIGHT", 720),
		CameraFPS:     getenvInt("UPIC_CAMERA_FPS", 30),

		HTTPAddr: getenvDefault("UPIC_HTTP_ADDR", "127.0.0.1:8080"),
		GRPCAddr: strings.TrimSpace(os.Getenv("UPIC_GRPC_ADDR")),

		LogLevel:  strings.ToLower(getenvDefault("UPIC_LOG_LEVEL", "info")),
		LogFormat: logFormat,
	}
}

// LoadDotEnv seeds the environment from a .env file. Variables already
// set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// BindFlags registers a flag for every setting, defaulting to the
// current value, so command-line flags override the environment.
func (c *Config) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.CredentialsPath, "db", c.CredentialsPath, "credential file written by the issuing tool")
	flags.DurationVar(&c.ReloadInterval, "reload-interval", c.ReloadInterval, "how often to check the credential file for changes")

	flags.StringVar(&c.LogDir, "log-dir", c.LogDir, "directory for daily audit workbooks")
	flags.StringVar(&c.AuditDBPath, "audit-db", c.AuditDBPath, "sqlite audit mirror path (empty disables)")
	flags.IntVar(&c.AuditRetentionDays, "audit-retention-days", c.AuditRetentionDays, "days of audit mirror history to keep (0 keeps everything)")
	flags.IntVar(&c.PruneIntervalHours, "prune-interval-hours", c.PruneIntervalHours, "hours between audit mirror prunes")

	flags.DurationVar(&c.ScanCooldown, "scan-cooldown", c.ScanCooldown, "how long a decision stays on screen")
	flags.DurationVar(&c.ScanTimeout, "scan-timeout", c.ScanTimeout, "how long badges are ignored after a decision")
	flags.BoolVar(&c.FailClosed, "fail-closed", c.FailClosed, "deny credentials whose expiration cannot be parsed")

	flags.IntSliceVar(&c.CameraIndices, "camera", c.CameraIndices, "video device indices to try, in order")
	flags.DurationVar(&c.CameraBackoff, "camera-backoff", c.CameraBackoff, "pause before reconnecting a failed camera")
	flags.IntVar(&c.CameraWidth, "camera-width", c.CameraWidth, "capture width")
	flags.IntVar(&c.CameraHeight, "camera-height", c.CameraHeight, "capture height")
	flags.IntVar(&c.CameraFPS, "camera-fps", c.CameraFPS, "capture frame rate")

	flags.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "admin HTTP listen address (empty disables)")
	flags.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC health listen address (empty disables)")

	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// getenvDuration accepts Go durations ("5s") and bare seconds ("5").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func splitInts(v string) []int {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil && n >= 0 {
			out = append(out, n)
		}
	}
	return out
}
