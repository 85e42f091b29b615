package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Port          int      `toml:"port"`
	DataPath      string   `toml:"data_path"`
	UploadPath    string   `toml:"upload_path"`
	DBPath        string   `toml:"db_path"`
	CORSOrigins   []string `toml:"cors_origins"`
	MaxUploadMB   int64    `toml:"max_upload_mb"`
	UploadsPerMin int      `toml:"uploads_per_minute"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "console", "json" or "auto"

	RetentionDays        int `toml:"retention_days"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
	ProgressIntervalMS   int `toml:"progress_interval_ms"`

	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
	FontPath    string `toml:"font_path"`

	OCRURL     string `toml:"ocr_url"`
	WhisperURL string `toml:"whisper_url"`
	OpenAIKey  string `toml:"openai_api_key"`
	InpaintBin string `toml:"inpaint_bin"`

	Translate Translate `toml:"translate"`
}

// Translate holds server-side defaults for the translation endpoints. Per-request
// parameters override the OpenAI-compatible values.
type Translate struct {
	APIBase     string `toml:"api_base"`
	APIKey      string `toml:"api_key"`
	Model       string `toml:"model"`
	GeminiKey   string `toml:"gemini_api_key"`
	GeminiModel string `toml:"gemini_model"`
	DeepLKey    string `toml:"deepl_api_key"`
	PresetsPath string `toml:"presets_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	dataPath := "/data"
	return Config{
		Port:                 8080,
		DataPath:             dataPath,
		UploadPath:           filepath.Join(dataPath, "uploads"),
		DBPath:               filepath.Join(dataPath, "subtitler.db"),
		CORSOrigins:          []string{"*"},
		MaxUploadMB:          4096,
		UploadsPerMin:        30,
		LogLevel:             "info",
		LogFormat:            "auto",
		RetentionDays:        7,
		SweepIntervalMinutes: 60,
		ProgressIntervalMS:   500,
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		Translate: Translate{
			APIBase:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file %s not found", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fileCfg Config
		if err := toml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.merge(fileCfg)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) merge(o Config) {
	setInt(&c.Port, o.Port)
	setStr(&c.DataPath, o.DataPath)
	setStr(&c.UploadPath, o.UploadPath)
	setStr(&c.DBPath, o.DBPath)
	if len(o.CORSOrigins) > 0 {
		c.CORSOrigins = o.CORSOrigins
	}
	if o.MaxUploadMB != 0 {
		c.MaxUploadMB = o.MaxUploadMB
	}
	setInt(&c.UploadsPerMin, o.UploadsPerMin)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.LogFormat, o.LogFormat)
	setInt(&c.RetentionDays, o.RetentionDays)
	setInt(&c.SweepIntervalMinutes, o.SweepIntervalMinutes)
	setInt(&c.ProgressIntervalMS, o.ProgressIntervalMS)
	setStr(&c.FFmpegPath, o.FFmpegPath)
	setStr(&c.FFprobePath, o.FFprobePath)
	setStr(&c.FontPath, o.FontPath)
	setStr(&c.OCRURL, o.OCRURL)
	setStr(&c.WhisperURL, o.WhisperURL)
	setStr(&c.OpenAIKey, o.OpenAIKey)
	setStr(&c.InpaintBin, o.InpaintBin)
	setStr(&c.Translate.APIBase, o.Translate.APIBase)
	setStr(&c.Translate.APIKey, o.Translate.APIKey)
	setStr(&c.Translate.Model, o.Translate.Model)
	setStr(&c.Translate.GeminiKey, o.Translate.GeminiKey)
	setStr(&c.Translate.GeminiModel, o.Translate.GeminiModel)
	setStr(&c.Translate.DeepLKey, o.Translate.DeepLKey)
	setStr(&c.Translate.PresetsPath, o.Translate.PresetsPath)
}

func (c *Config) applyEnv() {
	if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		c.Port = v
	}

	// Derived paths follow the data path unless they were set explicitly
	defaults := Default()
	c.DataPath = getEnv("DATA_PATH", c.DataPath)
	if c.UploadPath == defaults.UploadPath {
		c.UploadPath = filepath.Join(c.DataPath, "uploads")
	}
	if c.DBPath == defaults.DBPath {
		c.DBPath = filepath.Join(c.DataPath, "subtitler.db")
	}
	c.UploadPath = getEnv("UPLOAD_PATH", c.UploadPath)
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	// CORS origins: comma-separated list or "*"
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		c.CORSOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	if v, err := strconv.ParseInt(os.Getenv("MAX_UPLOAD_MB"), 10, 64); err == nil {
		c.MaxUploadMB = v
	}
	if v, err := strconv.Atoi(os.Getenv("RETENTION_DAYS")); err == nil {
		c.RetentionDays = v
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)
	c.FontPath = getEnv("FONT_PATH", c.FontPath)
	c.OCRURL = getEnv("OCR_URL", c.OCRURL)
	c.WhisperURL = getEnv("WHISPER_URL", c.WhisperURL)
	c.OpenAIKey = getEnv("OPENAI_API_KEY", c.OpenAIKey)
	c.InpaintBin = getEnv("INPAINT_BIN", c.InpaintBin)
	c.Translate.APIBase = getEnv("TRANSLATE_API_BASE", c.Translate.APIBase)
	c.Translate.APIKey = getEnv("TRANSLATE_API_KEY", c.Translate.APIKey)
	c.Translate.Model = getEnv("TRANSLATE_MODEL", c.Translate.Model)
	c.Translate.GeminiKey = getEnv("GEMINI_API_KEY", c.Translate.GeminiKey)
	c.Translate.GeminiModel = getEnv("GEMINI_MODEL", c.Translate.GeminiModel)
	c.Translate.DeepLKey = getEnv("DEEPL_API_KEY", c.Translate.DeepLKey)
	c.Translate.PresetsPath = getEnv("PRESETS_PATH", c.Translate.PresetsPath)
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Translate.APIBase = strings.TrimRight(strings.TrimSpace(c.Translate.APIBase), "/")
	if c.Translate.APIKey == "" {
		// The OpenAI key doubles as the translation key when no dedicated one is set
		c.Translate.APIKey = c.OpenAIKey
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case strings.TrimSpace(c.DataPath) == "":
		return errors.New("config: data_path is required")
	case strings.TrimSpace(c.UploadPath) == "":
		return errors.New("config: upload_path is required")
	case strings.TrimSpace(c.DBPath) == "":
		return errors.New("config: db_path is required")
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("config: max_upload_mb must be positive, got %d", c.MaxUploadMB)
	case c.UploadsPerMin <= 0:
		return fmt.Errorf("config: uploads_per_minute must be positive, got %d", c.UploadsPerMin)
	case c.RetentionDays <= 0:
		return fmt.Errorf("config: retention_days must be positive, got %d", c.RetentionDays)
	case c.ProgressIntervalMS <= 0:
		return fmt.Errorf("config: progress_interval_ms must be positive, got %d", c.ProgressIntervalMS)
	}
	switch c.LogFormat {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("config: unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// MaxUploadBytes is the upload body limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	if c.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// Retention is the age after which tasks are swept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EnsureDirectories creates the data and upload directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataPath, c.UploadPath, filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
