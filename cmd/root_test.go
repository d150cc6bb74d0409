package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-scholar-sheet/internal/pipeline"
)

func TestEnsureScheme(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "スキームなし", input: "scholar.google.com/scholar?q=x", want: "https://scholar.google.com/scholar?q=x"},
		{name: "https", input: "https://scholar.google.com/scholar", want: "https://scholar.google.com/scholar"},
		{name: "http", input: "http://localhost:8080/scholar", want: "http://localhost:8080/scholar"},
		{name: "不正なスキーム", input: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ensureScheme(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigFromViper_Defaults(t *testing.T) {
	cfg, err := configFromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultConfig(), cfg)
}

func TestConfigFromViper_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("url", "scholar.google.com/scholar?q=Diffusion")
	v.Set("cookie", "GSP=abc")
	v.Set("start", 40)
	v.Set("total", 120)
	v.Set("delay", "500ms")
	v.Set("timeout", 5)
	v.Set("max-retries", 2)
	v.Set("sheet", "Survey")

	cfg, err := configFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "https://scholar.google.com/scholar?q=Diffusion", cfg.BaseURL)
	assert.Equal(t, "GSP=abc", cfg.Cookie)
	assert.Equal(t, 40, cfg.StartIndex)
	assert.Equal(t, 120, cfg.Total)
	assert.Equal(t, 500*time.Millisecond, cfg.Delay)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(2), cfg.MaxRetries)
	assert.Equal(t, "Survey", cfg.SheetName)
	assert.Equal(t, pipeline.DefaultOutputPath, cfg.OutputPath)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromViper_NegativeRetries(t *testing.T) {
	v := viper.New()
	v.Set("max-retries", -1)

	_, err := configFromViper(v)
	assert.Error(t, err)
}

func TestConfigFromViper_Env(t *testing.T) {
	t.Setenv("SCHOLAR_SHEET_COOKIE", "from-env")
	t.Setenv("SCHOLAR_SHEET_PAGE_SIZE", "20")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(newEnvKeyReplacer())
	v.AutomaticEnv()

	cfg, err := configFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Cookie)
	assert.Equal(t, 20, cfg.PageSize)
}
