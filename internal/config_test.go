package internal

import (
	"strings"
	"testing"

	pkgconfig "github.com/starford/marksite/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	n, err := cfg.Oembed.CacheBytes()
	if err != nil || n != 16<<20 {
		t.Errorf("cache bytes = %d, %v", n, err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MARKSITE_PORT":              "9000",
		"MARKSITE_HOST":              "127.0.0.1",
		"MARKSITE_LOG_LEVEL":         "debug",
		"MARKSITE_EXTENSIONS":        ".md, .mdx",
		"MARKSITE_TAG_FIELDS":        "tags,meta.topics",
		"MARKSITE_LINK_TRACKING":     "true",
		"MARKSITE_OEMBED_CACHE_SIZE": "1 MB",
		"MARKSITE_SKIP_TAG_PAGES":    "1",
		"UNRELATED_PORT":             "1",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.App.HTTP.Address() != "127.0.0.1:9000" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	if cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("log level = %v", cfg.App.LogLevel)
	}
	if len(cfg.Site.Extensions) != 2 || cfg.Site.Extensions[1] != ".mdx" {
		t.Errorf("extensions = %v", cfg.Site.Extensions)
	}
	if len(cfg.Tags.Sources) != 2 || cfg.Tags.Sources[1].Field != "meta.topics" {
		t.Errorf("sources = %+v", cfg.Tags.Sources)
	}
	if !cfg.Links.Tracking || !cfg.Build.SkipTagPages {
		t.Error("boolean overrides not applied")
	}
	if n, _ := cfg.Oembed.CacheBytes(); n != 1000*1000 {
		t.Errorf("cache bytes = %d", n)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MARKSITE_PORT":          "http",
		"MARKSITE_LINK_TRACKING": "maybe",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "MARKSITE_PORT") || !strings.Contains(err.Error(), "MARKSITE_LINK_TRACKING") {
		t.Errorf("error should name both variables: %v", err)
	}
}

func TestSiteConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"no extensions":         func(c *Config) { c.Site.Extensions = nil },
		"extension without dot": func(c *Config) { c.Site.Extensions = []string{"md"} },
		"relative endpoint":     func(c *Config) { c.Site.SearchEndpoint = "search" },
		"bad cache size":        func(c *Config) { c.Oembed.CacheSize = "lots" },
		"negative timeout":      func(c *Config) { c.Oembed.TimeoutMS = -1 },
		"no output":             func(c *Config) { c.Build.Output = "" },
		"duplicate source":      func(c *Config) { c.Tags.Sources = append(c.Tags.Sources, c.Tags.Sources[0]) },
		"unknown inline source": func(c *Config) { c.Tags.InlineSource = "topics" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigMapsOntoOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Build.Concurrency = 3
	cfg.Links.Tracking = true

	so := cfg.ScannerOptions()
	if so.Workers != 3 || so.StaticFolder != "static" || len(so.TagSources) != 1 {
		t.Errorf("scanner options = %+v", so)
	}
	bo := cfg.BuildOptions()
	if bo.Output != "public" || bo.Concurrency != 3 || !bo.LinkTracking {
		t.Errorf("build options = %+v", bo)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("MARKSITE_AUTH_TOKEN", "")
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load("../marksite.example.yaml", cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := pkgconfig.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Tags.Sources) != 2 || cfg.Tags.Sources[1].Slug() != "meta-topics" {
		t.Errorf("tag sources = %+v", cfg.Tags.Sources)
	}
	if !cfg.Links.Tracking {
		t.Error("links.tracking not applied")
	}
}
