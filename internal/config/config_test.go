package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logLevel: debug
argocd:
  username: admin
  password: secret
  requestTimeout: 15s
  appLocatorMethods:
    - type: config
      instances:
        - name: main
          url: https://argocd.example.com
          token: static-token
        - name: staging
          url: https://staging.argocd.example.com
    - type: other
ui:
  pollInterval: 5s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_ParsesFileOverDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 15*time.Second, c.ArgoCD.RequestTimeout)
	assert.Equal(t, 5*time.Second, c.UI.PollInterval)
	assert.Equal(t, 28, c.UI.SidebarWidth, "unset fields keep defaults")
	require.Len(t, c.ArgoCD.AppLocatorMethods, 2)
	assert.Equal(t, 2, c.InstanceCount())
	assert.Equal(t, "static-token", c.ArgoCD.AppLocatorMethods[0].Instances[0].Token)
	require.NoError(t, c.Validate())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "argocd:\n  bogus: true\n"))
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "instance without url",
			mutate: func(c *Config) {
				c.AddInstance(InstanceConfig{Name: "a", Token: "t"})
			},
			wantErr: "URL",
		},
		{
			name: "instance without credentials",
			mutate: func(c *Config) {
				c.AddInstance(InstanceConfig{Name: "a", URL: "https://a.example.com"})
			},
			wantErr: `instance "a" has no token and no username/password`,
		},
		{
			name: "instance falls back to default credentials",
			mutate: func(c *Config) {
				c.ArgoCD.Username = "admin"
				c.ArgoCD.Password = "pw"
				c.AddInstance(InstanceConfig{Name: "a", URL: "https://a.example.com"})
			},
		},
		{
			name: "redis backend needs an address",
			mutate: func(c *Config) {
				c.ArgoCD.TokenCache.Backend = "redis"
			},
			wantErr: "RedisAddr",
		},
		{
			name: "unknown lifecycle source",
			mutate: func(c *Config) {
				c.Lifecycle.Source = "etcd"
			},
			wantErr: "Source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv_SynthesisesDefaultInstance(t *testing.T) {
	t.Setenv("ARGOCD_SERVER", "https://localhost:8080")
	t.Setenv("ARGOCD_AUTH_TOKEN", "tok")
	t.Setenv("ARGOCD_INSECURE", "true")
	t.Setenv("ARGOLENS_LOG_LEVEL", "warn")

	c := Default()
	c.ApplyEnv()

	require.Equal(t, 1, c.InstanceCount())
	inst := c.ArgoCD.AppLocatorMethods[0].Instances[0]
	assert.Equal(t, InstanceConfig{Name: "default", URL: "https://localhost:8080", Token: "tok"}, inst)
	assert.True(t, c.ArgoCD.LocalDevelopment)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestApplyEnv_KeepsConfiguredInstances(t *testing.T) {
	t.Setenv("ARGOCD_SERVER", "https://localhost:8080")

	c := Default()
	c.AddInstance(InstanceConfig{Name: "main", URL: "https://main.example.com", Token: "t"})
	c.ApplyEnv()

	require.Equal(t, 1, c.InstanceCount())
	assert.Equal(t, "main", c.ArgoCD.AppLocatorMethods[0].Instances[0].Name)
}
