package profile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CHATCORE_MODE", "CHATCORE_ADDR", "CHATCORE_PORT", "CHATCORE_DRIVER", "CHATCORE_DSN", "CHATCORE_DATA",
		"CHATCORE_LLM_PROVIDER", "CHATCORE_LLM_API_KEY", "CHATCORE_LLM_BASE_URL", "CHATCORE_LLM_MODEL", "CHATCORE_LLM_TIMEOUT_SECONDS",
		"CHATCORE_EMBEDDING_PROVIDER", "CHATCORE_EMBEDDING_MODEL", "CHATCORE_EMBEDDING_API_KEY", "CHATCORE_EMBEDDING_BASE_URL", "CHATCORE_EMBEDDING_DIM",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.False(t, p.AIEnabled)
	assert.Equal(t, "zai", p.LLMProvider)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", p.LLMBaseURL)
	assert.Equal(t, "glm-4.7", p.LLMModel)
	assert.Equal(t, 120, p.LLMTimeout)
	assert.Equal(t, "siliconflow", p.EmbeddingProvider)
	assert.Equal(t, "BAAI/bge-m3", p.EmbeddingModel)
	assert.Equal(t, "memory", p.Driver)
}

func TestFromEnvOverridesProviderDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATCORE_LLM_PROVIDER", "deepseek")
	t.Setenv("CHATCORE_LLM_API_KEY", "secret")

	p := &Profile{}
	p.FromEnv()

	assert.True(t, p.AIEnabled)
	assert.Equal(t, "deepseek", p.LLMProvider)
	assert.Equal(t, "https://api.deepseek.com", p.LLMBaseURL)
	assert.Equal(t, "deepseek-chat", p.LLMModel)
}

func TestFromEnvUnknownProviderFallsBackToZAI(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATCORE_LLM_PROVIDER", "not-a-real-provider")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "zai", p.LLMProvider)
}

func TestFromEnvExplicitBaseURLOverridesProviderDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATCORE_LLM_BASE_URL", "https://custom.example.com/v1")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://custom.example.com/v1", p.LLMBaseURL)
}

func TestIsAIEnabledRequiresBothFlagAndKey(t *testing.T) {
	tests := []struct {
		name      string
		aiEnabled bool
		apiKey    string
		want      bool
	}{
		{"neither set", false, "", false},
		{"key without flag", false, "key", false},
		{"flag without key", true, "", false},
		{"both set", true, "key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{AIEnabled: tt.aiEnabled, LLMAPIKey: tt.apiKey}
			assert.Equal(t, tt.want, p.IsAIEnabled())
		})
	}
}

func TestValidateNormalisesUnknownMode(t *testing.T) {
	p := &Profile{Mode: "bogus", Driver: "memory"}
	require := assert.New(t)
	require.NoError(p.Validate())
	require.Equal("demo", p.Mode)
}

func TestValidateSkipsDataDirForNonSQLiteDriver(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "postgres"}
	assert.NoError(t, p.Validate())
	assert.Empty(t, p.Data)
}

func TestValidateDerivesSQLiteDSNUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	require := assert.New(t)
	require.NoError(p.Validate())
	require.Contains(p.DSN, dir)
	require.Contains(p.DSN, "chatcore_dev.db")
}
