package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marksite/internal/build"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/site"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "MARKSITE_"

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Site    SiteConfig        `yaml:"site"`
	Oembed  OembedConfig      `yaml:"oembed"`
	Build   BuildConfig       `yaml:"build"`
	Links   LinksConfig       `yaml:"links"`
	Tags    TagsConfig        `yaml:"tags"`
	Search  SearchConfig      `yaml:"search"`
	Auth    AuthConfig        `yaml:"auth"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return err
	}
	if err := c.Oembed.Validate(); err != nil {
		return err
	}
	if err := c.Build.Validate(); err != nil {
		return err
	}
	if err := c.Tags.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SiteConfig describes the content tree and the URLs derived from it.
// MarkdownFeatures names goldmark extensions (gfm, footnote, ...); empty
// selects the renderer defaults.
type SiteConfig struct {
	Root                 string   `yaml:"root"`
	Title                string   `yaml:"title"`
	Extensions           []string `yaml:"extensions"`
	MarkdownFeatures     []string `yaml:"markdown_features"`
	IndexFiles           []string `yaml:"index_files"`
	StaticFolder         string   `yaml:"static_folder"`
	IgnoreDirs           []string `yaml:"ignore_dirs"`
	IgnoreGlobs          []string `yaml:"ignore_globs"`
	WatcherIgnore        []string `yaml:"watcher_ignore"`
	SiteMetadataEndpoint string   `yaml:"site_metadata_endpoint"`
	SearchEndpoint       string   `yaml:"search_endpoint"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.By(dotPrefixed))),
		validation.Field(&c.IndexFiles, validation.Required),
		validation.Field(&c.SiteMetadataEndpoint, validation.Required, validation.By(slashPrefixed)),
		validation.Field(&c.SearchEndpoint, validation.Required, validation.By(slashPrefixed)),
	)
}

// OembedConfig bounds embed lookups. A zero timeout or cache size disables
// network fetches entirely.
type OembedConfig struct {
	TimeoutMS         int    `yaml:"timeout_ms"`
	CacheSize         string `yaml:"cache_size"`
	AllowPrivateHosts bool   `yaml:"allow_private_hosts"`
}

// Timeout returns the per-fetch deadline.
func (c *OembedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CacheBytes parses CacheSize ("16MiB", "0", "500 kB").
func (c *OembedConfig) CacheBytes() (int64, error) {
	if strings.TrimSpace(c.CacheSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.CacheSize)
	if err != nil {
		return 0, fmt.Errorf("oembed: cache_size: %w", err)
	}
	return int64(n), nil
}

// Validate validates the oembed configuration.
func (c *OembedConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TimeoutMS, validation.Min(0)),
	); err != nil {
		return err
	}
	_, err := c.CacheBytes()
	return err
}

// BuildConfig holds static build settings.
type BuildConfig struct {
	Output             string `yaml:"output"`
	Concurrency        int    `yaml:"concurrency"`
	SkipLinkValidation bool   `yaml:"skip_link_validation"`
	SkipTagPages       bool   `yaml:"skip_tag_pages"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Output, validation.Required),
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(256)),
	)
}

// LinksConfig toggles the link graph outputs.
type LinksConfig struct {
	Tracking bool `yaml:"tracking"`
}

// TagsConfig lists the frontmatter fields that carry tags.
type TagsConfig struct {
	Sources      []models.TagSource `yaml:"sources"`
	InlineSource string             `yaml:"inline_source"`
}

// Validate validates the tag configuration.
func (c *TagsConfig) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Field) == "" {
			return fmt.Errorf("tags: sources[%d]: field is required", i)
		}
		if seen[src.Field] {
			return fmt.Errorf("tags: sources[%d]: duplicate field %q", i, src.Field)
		}
		seen[src.Field] = true
	}
	if c.InlineSource != "" && !seen[c.InlineSource] {
		return fmt.Errorf("tags: inline_source %q is not a configured source", c.InlineSource)
	}
	return nil
}

// SearchConfig holds the search store location. An empty path disables
// the search endpoint.
type SearchConfig struct {
	Path string `yaml:"sqlite_path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Site: SiteConfig{
			Root:                 ".",
			Title:                "marksite",
			Extensions:           []string{".md", ".markdown"},
			IndexFiles:           []string{"index.md", "README.md"},
			StaticFolder:         "static",
			IgnoreDirs:           []string{".git", ".marksite", "node_modules"},
			WatcherIgnore:        []string{"*.swp", "*~", ".#*"},
			SiteMetadataEndpoint: "/_marksite/site.json",
			SearchEndpoint:       "/_marksite/search",
		},
		Oembed: OembedConfig{
			TimeoutMS: 5000,
			CacheSize: "16MiB",
		},
		Build: BuildConfig{
			Output: "public",
		},
		Tags: TagsConfig{
			Sources:      []models.TagSource{{Field: "tags"}},
			InlineSource: "tags",
		},
		Search: SearchConfig{
			Path: ".marksite/search.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

// ScannerOptions maps the site and tag sections onto scanner options.
func (c *Config) ScannerOptions() site.Options {
	return site.Options{
		Root:         c.Site.Root,
		Rules:        site.URLRules{Extensions: c.Site.Extensions, IndexFiles: c.Site.IndexFiles},
		StaticFolder: c.Site.StaticFolder,
		IgnoreDirs:   c.Site.IgnoreDirs,
		IgnoreGlobs:  c.Site.IgnoreGlobs,
		TagSources:   c.Tags.Sources,
		InlineSource: c.Tags.InlineSource,
		Workers:      c.Build.Concurrency,
	}
}

// BuildOptions maps the build and links sections onto build options.
func (c *Config) BuildOptions() build.Options {
	return build.Options{
		Output:             c.Build.Output,
		Concurrency:        c.Build.Concurrency,
		LinkTracking:       c.Links.Tracking,
		SkipLinkValidation: c.Build.SkipLinkValidation,
		SkipTagPages:       c.Build.SkipTagPages,
	}
}

// ApplyEnv overlays MARKSITE_* variables found through lookup. Lists are
// comma separated.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	list := func(dst *[]string) func(string) error {
		return func(v string) error { *dst = splitList(v); return nil }
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	flag := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}

	vars := []struct {
		name  string
		apply func(string) error
	}{
		{"LOG_LEVEL", func(v string) error { return c.App.LogLevel.UnmarshalText([]byte(v)) }},
		{"HOST", str(&c.App.HTTP.Host)},
		{"PORT", num(&c.App.HTTP.Port)},
		{"ROOT", str(&c.Site.Root)},
		{"TITLE", str(&c.Site.Title)},
		{"EXTENSIONS", list(&c.Site.Extensions)},
		{"MARKDOWN_FEATURES", list(&c.Site.MarkdownFeatures)},
		{"INDEX_FILES", list(&c.Site.IndexFiles)},
		{"STATIC_FOLDER", str(&c.Site.StaticFolder)},
		{"IGNORE_DIRS", list(&c.Site.IgnoreDirs)},
		{"IGNORE_GLOBS", list(&c.Site.IgnoreGlobs)},
		{"WATCHER_IGNORE", list(&c.Site.WatcherIgnore)},
		{"SITE_METADATA_ENDPOINT", str(&c.Site.SiteMetadataEndpoint)},
		{"SEARCH_ENDPOINT", str(&c.Site.SearchEndpoint)},
		{"OEMBED_TIMEOUT_MS", num(&c.Oembed.TimeoutMS)},
		{"OEMBED_CACHE_SIZE", str(&c.Oembed.CacheSize)},
		{"OEMBED_ALLOW_PRIVATE_HOSTS", flag(&c.Oembed.AllowPrivateHosts)},
		{"OUTPUT", str(&c.Build.Output)},
		{"CONCURRENCY", num(&c.Build.Concurrency)},
		{"SKIP_LINK_VALIDATION", flag(&c.Build.SkipLinkValidation)},
		{"SKIP_TAG_PAGES", flag(&c.Build.SkipTagPages)},
		{"LINK_TRACKING", flag(&c.Links.Tracking)},
		{"TAG_FIELDS", func(v string) error {
			c.Tags.Sources = c.Tags.Sources[:0]
			for _, f := range splitList(v) {
				c.Tags.Sources = append(c.Tags.Sources, models.TagSource{Field: f})
			}
			return nil
		}},
		{"INLINE_TAG_SOURCE", str(&c.Tags.InlineSource)},
		{"SEARCH_PATH", str(&c.Search.Path)},
		{"AUTH_MODE", str(&c.Auth.Mode)},
		{"AUTH_TOKEN", str(&c.Auth.Token)},
		{"METRICS_ENABLED", flag(&c.Metrics.Enabled)},
	}

	var errs []error
	for _, v := range vars {
		raw, ok := lookup(EnvPrefix + v.name)
		if !ok {
			continue
		}
		if err := v.apply(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, v.name, err))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dotPrefixed(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, ".") {
		return errors.New("must start with a dot")
	}
	return nil
}

func slashPrefixed(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") {
		return errors.New("must start with a slash")
	}
	return nil
}
