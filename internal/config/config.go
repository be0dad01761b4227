package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Conversion  ConversionConfig  `mapstructure:"conversion"`
	Output      OutputConfig      `mapstructure:"output"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
}

// ConversionConfig contains the quality search settings
type ConversionConfig struct {
	TargetSizeKB        float64  `mapstructure:"target_size_kb" validate:"gt=0"`
	MinQuality          int      `mapstructure:"min_quality" validate:"gte=0,lte=100"`
	MaxQuality          int      `mapstructure:"max_quality" validate:"gte=0,lte=100,gtefield=MinQuality"`
	MaxDimension        int      `mapstructure:"max_dimension" validate:"gte=0"`
	AutoOrient          bool     `mapstructure:"auto_orient"`
	SupportedExtensions []string `mapstructure:"supported_extensions" validate:"min=1,dive,required"`
}

// OutputConfig contains save settings
type OutputConfig struct {
	Directory    string `mapstructure:"directory"`
	Overwrite    bool   `mapstructure:"overwrite"`
	ReportFormat string `mapstructure:"report_format" validate:"oneof=table json yaml"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size" validate:"gte=0"` // MB
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" validate:"gte=0"` // days
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig contains web interface settings
type ServerConfig struct {
	Port             int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	Metrics          bool   `mapstructure:"metrics"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			TargetSizeKB:        200,
			MinQuality:          40,
			MaxQuality:          90,
			MaxDimension:        0,
			AutoOrient:          true,
			SupportedExtensions: []string{".jpg", ".jpeg", ".png"},
		},
		Output: OutputConfig{
			Directory:    "",
			Overwrite:    false,
			ReportFormat: "table",
		},
		Performance: PerformanceConfig{
			Workers: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "webp-shrink.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
		Server: ServerConfig{
			Port:             8080,
			Metrics:          true,
			MetricsNamespace: "webp_shrink",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.webp-shrink")
		v.AddConfigPath("/etc/webp-shrink")
	}

	// Defaults have to be known to viper for env overrides to reach Unmarshal
	setDefaults(v, config)

	v.SetEnvPrefix("WEBP_SHRINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("conversion.target_size_kb", c.Conversion.TargetSizeKB)
	v.SetDefault("conversion.min_quality", c.Conversion.MinQuality)
	v.SetDefault("conversion.max_quality", c.Conversion.MaxQuality)
	v.SetDefault("conversion.max_dimension", c.Conversion.MaxDimension)
	v.SetDefault("conversion.auto_orient", c.Conversion.AutoOrient)
	v.SetDefault("conversion.supported_extensions", c.Conversion.SupportedExtensions)
	v.SetDefault("output.directory", c.Output.Directory)
	v.SetDefault("output.overwrite", c.Output.Overwrite)
	v.SetDefault("output.report_format", c.Output.ReportFormat)
	v.SetDefault("performance.workers", c.Performance.Workers)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.metrics", c.Server.Metrics)
	v.SetDefault("server.metrics_namespace", c.Server.MetricsNamespace)
}

var validate = validator.New()

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Output.ReportFormat = strings.ToLower(c.Output.ReportFormat)
	c.Conversion.SupportedExtensions = normalizeExtensions(c.Conversion.SupportedExtensions)

	if c.Performance.Workers <= 0 {
		c.Performance.Workers = 1
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldErrors(verrs)
		}
		return err
	}

	return nil
}

// IsSupportedExtension checks if the extension is a convertible image
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Conversion.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func fieldErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s must not be lower than %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s %q is invalid (valid: %s)", field, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
