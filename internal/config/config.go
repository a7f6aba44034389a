package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LocatorTypeConfig is the only app locator type that carries instances.
const LocatorTypeConfig = "config"

// Config is the app configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"`

	ArgoCD    ArgoCD    `yaml:"argocd"`
	Server    Server    `yaml:"server"`
	UI        UI        `yaml:"ui"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
}

type ArgoCD struct {
	// Username and Password are the defaults for instances without their own.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// LocalDevelopment skips TLS verification on the ArgoCD transport.
	LocalDevelopment bool `yaml:"localDevelopment"`

	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gte=0"`
	MaxConcurrency int           `yaml:"maxConcurrency" validate:"gte=0"`
	LoginRateLimit float64       `yaml:"loginRateLimit" validate:"gte=0"`

	TokenCache        TokenCache         `yaml:"tokenCache"`
	AppLocatorMethods []AppLocatorMethod `yaml:"appLocatorMethods" validate:"dive"`
}

type TokenCache struct {
	Backend       string        `yaml:"backend" validate:"omitempty,oneof=memory redis none"`
	DefaultTTL    time.Duration `yaml:"defaultTTL" validate:"gte=0"`
	RedisAddr     string        `yaml:"redisAddr" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redisPassword"`
}

// AppLocatorMethod is one entry of argocd.appLocatorMethods. Only entries of
// type "config" contribute instances.
type AppLocatorMethod struct {
	Type      string           `yaml:"type" validate:"required"`
	Instances []InstanceConfig `yaml:"instances" validate:"dive"`
}

type InstanceConfig struct {
	Name     string `yaml:"name" validate:"required"`
	URL      string `yaml:"url" validate:"required,url"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Server struct {
	Listen         string   `yaml:"listen" validate:"required"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type UI struct {
	SidebarWidth int           `yaml:"sidebarWidth"`
	PollInterval time.Duration `yaml:"pollInterval" validate:"gte=0"`
}

type Lifecycle struct {
	// Source selects where Rollout/ReplicaSet resources come from: "argocd"
	// reads live manifests through the ArgoCD API, "kubernetes" lists them
	// with a dynamic client.
	Source     string `yaml:"source" validate:"oneof=argocd kubernetes"`
	Kubeconfig string `yaml:"kubeconfig"`
}

func Default() Config {
	var c Config
	c.LogLevel = "info"
	c.ArgoCD.RequestTimeout = 10 * time.Second
	c.ArgoCD.MaxConcurrency = 8
	c.ArgoCD.TokenCache.Backend = "memory"
	c.ArgoCD.TokenCache.DefaultTTL = time.Hour
	c.Server.Listen = ":7007"
	c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	c.UI.SidebarWidth = 28
	c.UI.PollInterval = 10 * time.Second
	c.Lifecycle.Source = "argocd"
	return c
}

// Load loads configuration from the given path on top of Default().
// An empty path returns Default().
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv loads a .env file when present and applies ARGOCD_* / ARGOLENS_*
// overrides. ARGOCD_SERVER and ARGOCD_AUTH_TOKEN synthesise a "default"
// instance when the file configured none.
func (c *Config) ApplyEnv() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if v := os.Getenv("ARGOCD_USERNAME"); v != "" {
		c.ArgoCD.Username = v
	}
	if v := os.Getenv("ARGOCD_PASSWORD"); v != "" {
		c.ArgoCD.Password = v
	}
	if v := os.Getenv("ARGOCD_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ArgoCD.LocalDevelopment = b
		}
	}
	if v := os.Getenv("ARGOLENS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ARGOLENS_REDIS_ADDR"); v != "" {
		c.ArgoCD.TokenCache.RedisAddr = v
	}

	server := os.Getenv("ARGOCD_SERVER")
	token := os.Getenv("ARGOCD_AUTH_TOKEN")
	if server != "" && c.InstanceCount() == 0 {
		c.AddInstance(InstanceConfig{Name: "default", URL: server, Token: token})
	}
}

// AddInstance appends inst to the first config locator, creating one if needed.
func (c *Config) AddInstance(inst InstanceConfig) {
	for i := range c.ArgoCD.AppLocatorMethods {
		if c.ArgoCD.AppLocatorMethods[i].Type == LocatorTypeConfig {
			c.ArgoCD.AppLocatorMethods[i].Instances = append(c.ArgoCD.AppLocatorMethods[i].Instances, inst)
			return
		}
	}
	c.ArgoCD.AppLocatorMethods = append(c.ArgoCD.AppLocatorMethods, AppLocatorMethod{
		Type:      LocatorTypeConfig,
		Instances: []InstanceConfig{inst},
	})
}

// InstanceCount counts instances across all config locators.
func (c *Config) InstanceCount() int {
	n := 0
	for _, m := range c.ArgoCD.AppLocatorMethods {
		if m.Type == LocatorTypeConfig {
			n += len(m.Instances)
		}
	}
	return n
}

var validate = validator.New()

// Validate checks struct constraints and that every instance can authenticate.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, m := range c.ArgoCD.AppLocatorMethods {
		if m.Type != LocatorTypeConfig {
			continue
		}
		for _, inst := range m.Instances {
			if inst.Token != "" {
				continue
			}
			if firstNonEmpty(inst.Username, c.ArgoCD.Username) == "" || firstNonEmpty(inst.Password, c.ArgoCD.Password) == "" {
				return fmt.Errorf("invalid config: instance %q has no token and no username/password", inst.Name)
			}
		}
	}
	return nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
