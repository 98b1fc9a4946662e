package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LookupFunc resolves one variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadFrom is Load with an explicit variable source. Every malformed value
// is reported, not only the first.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	l := envLoader{lookup: lookup}
	l.walk(reflect.ValueOf(cfg).Elem())
	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

var durationType = reflect.TypeOf(time.Duration(0))

// envLoader fills tagged struct fields. Tags:
//
//	env:"NAME"      variable name
//	envAlt:"NAME"   fallback name when NAME is empty
//	default:"v"     value when both are empty
//	required:"true" fail when no value results
type envLoader struct {
	lookup LookupFunc
	errs   []error
}

func (l *envLoader) get(key string) string {
	if key == "" {
		return ""
	}
	v, _ := l.lookup(key)
	return v
}

func (l *envLoader) walk(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			l.walk(fv)
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := cmp.Or(l.get(name), l.get(sf.Tag.Get("envAlt")), sf.Tag.Get("default"))
		if raw == "" {
			if sf.Tag.Get("required") == "true" {
				l.errs = append(l.errs, fmt.Errorf("%s is required", name))
			}
			continue
		}
		if err := parseInto(fv, raw); err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s=%q: %w", name, raw, err))
		}
	}
}

// parseInto converts raw to the field's type. String slices are comma
// separated with blanks dropped.
func parseInto(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return errors.New("not an integer")
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.New("not a number")
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.New("not a boolean")
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", fv.Type().Elem().Kind())
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		fv.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported type %s", fv.Kind())
	}
	return nil
}

// problems collects configuration findings, one per variable.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) positive(name string, v int64) {
	if v <= 0 {
		p.addf("%s must be positive", name)
	}
}

func (p *problems) between(name string, v, lo, hi float64) {
	if v < lo || v > hi {
		p.addf("%s (%g) must be %g-%g", name, v, lo, hi)
	}
}

func (p *problems) oneOf(name, v string, allowed ...string) {
	if !slices.Contains(allowed, strings.ToLower(v)) {
		p.addf("%s (%q) must be one of: %s", name, v, strings.Join(allowed, ", "))
	}
}

func (p *problems) present(name, v, when string) {
	switch {
	case v != "":
	case when == "":
		p.addf("%s is required", name)
	default:
		p.addf("%s is required %s", name, when)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var p problems

	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			p.addf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
		p.positive("DB_MAX_CONNS", int64(c.Database.MaxConns))
		if c.Database.MinConns < 0 {
			p.addf("DB_MIN_CONNS must be non-negative")
		}
	}

	p.oneOf("CATALOG_DRIVER", c.Catalog.Driver, "postgres", "sqlite")
	p.present("CATALOG_DSN", c.Catalog.DSN, "")

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		p.addf("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		p.addf("SERVER_READ_TIMEOUT must be non-negative")
	}
	p.positive("SERVER_SHUTDOWN_TIMEOUT", int64(c.Server.ShutdownTimeout))

	p.positive("UPLOAD_MAX_FILE_SIZE", c.Upload.MaxFileSize)
	p.positive("UPLOAD_MAX_CONCURRENT", int64(c.Upload.MaxConcurrent))
	p.positive("UPLOAD_MAX_WAIT_TIME", int64(c.Upload.MaxWaitTime))
	if len(c.Upload.AllowedExtensions) == 0 {
		p.addf("UPLOAD_ALLOWED_EXTENSIONS must list at least one extension")
	}

	p.between("IMPORT_DEFAULT_CHUNK_SIZE", float64(c.Import.DefaultChunkSize), 10, 1000)
	p.positive("IMPORT_DEFAULT_MAX_MINUTES", int64(c.Import.DefaultMaxMinutes))
	p.positive("IMPORT_DRY_RUN_SAMPLE_SIZE", int64(c.Import.DryRunSampleSize))
	p.between("IMPORT_AUTO_ADVANCE_SCORE", c.Import.AutoAdvanceScore, 0, 100)
	p.between("IMPORT_MAPPING_COVERAGE_FLOOR", c.Import.MappingCoverageFloor, 0, 1)
	p.between("IMPORT_GROUPING_MIN_CONFIDENCE", c.Import.GroupingMinConfidence, 0, 1)

	p.oneOf("QUEUE_BACKEND", c.Queue.Backend, "memory", "redis")
	if strings.EqualFold(c.Queue.Backend, "redis") {
		p.present("REDIS_URL", c.Redis.URL, "when QUEUE_BACKEND is redis")
	}
	p.positive("QUEUE_WORKERS", int64(c.Queue.Workers))
	if c.Queue.MaxRetries < 0 {
		p.addf("QUEUE_MAX_RETRIES must be non-negative")
	}

	p.oneOf("STORAGE_BACKEND", c.Storage.Backend, "local", "s3")
	switch strings.ToLower(c.Storage.Backend) {
	case "local":
		p.present("STORAGE_DIR", c.Storage.Dir, "when STORAGE_BACKEND is local")
	case "s3":
		p.present("STORAGE_S3_BUCKET", c.Storage.Bucket, "when STORAGE_BACKEND is s3")
	}

	if c.Rate.Enabled {
		p.positive("RATE_LIMIT_REQUESTS_PER_MINUTE", int64(c.Rate.RequestsPerMinute))
		p.positive("RATE_LIMIT_UPLOAD", int64(c.Rate.UploadLimit))
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		p.addf("API_KEYS must not be empty when REQUIRE_API_KEY is true")
	}

	p.present("SWEEPER_SCHEDULE", c.Sweeper.Schedule, "")
	p.positive("SWEEPER_STALE_AFTER", int64(c.Sweeper.StaleAfter))

	p.oneOf("LOG_LEVEL", c.Logging.Level, "debug", "info", "warn", "error")
	p.oneOf("LOG_FORMAT", c.Logging.Format, "text", "json")

	return p.err()
}

// String renders the config for logs with connection strings masked.
func (c *Config) String() string {
	parts := []string{
		fmt.Sprintf("server=%s", c.Server.Addr()),
		fmt.Sprintf("database=%s pool=%d-%d", mask(c.Database.URL), c.Database.MinConns, c.Database.MaxConns),
		fmt.Sprintf("catalog=%s:%s", c.Catalog.Driver, mask(c.Catalog.DSN)),
		fmt.Sprintf("upload_max=%d concurrent=%d", c.Upload.MaxFileSize, c.Upload.MaxConcurrent),
		fmt.Sprintf("chunk=%d auto_advance=%g", c.Import.DefaultChunkSize, c.Import.AutoAdvanceScore),
		fmt.Sprintf("queue=%s workers=%d", c.Queue.Backend, c.Queue.Workers),
		fmt.Sprintf("redis=%s", mask(c.Redis.URL)),
		fmt.Sprintf("storage=%s", c.Storage.Backend),
		fmt.Sprintf("api_keys=%d required=%t", len(c.Security.APIKeys), c.Security.RequireAPIKey),
		fmt.Sprintf("rate=%t/%dpm", c.Rate.Enabled, c.Rate.RequestsPerMinute),
		fmt.Sprintf("log=%s/%s", c.Logging.Level, c.Logging.Format),
	}
	return "Config{" + strings.Join(parts, " ") + "}"
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
