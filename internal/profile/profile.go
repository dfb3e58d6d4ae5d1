package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration for the chatcore server process, loaded from
// environment variables and/or cobra/viper flags.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol). All providers
	// (zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama) use
	// the same config shape.
	LLMProvider string // zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // optional, has a per-provider default
	LLMModel    string
	LLMTimeout  int // seconds, default 120

	// Embedding configuration, same one-provider-many-backends shape.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingDim      int

	// Server / storage configuration.
	Mode    string // demo, dev, prod
	Addr    string
	Port    int
	Driver  string // memory, postgres, sqlite
	DSN     string
	Data    string
	Version string

	AIEnabled bool
}

// providerDefaults carries per-provider base URL/model defaults,
// applied when the corresponding override is not set.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-large",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && p.LLMAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables, applying
// per-provider defaults where an override was not given.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("CHATCORE_MODE", "demo")
	p.Addr = getEnvOrDefault("CHATCORE_ADDR", "0.0.0.0")
	p.Port = getEnvOrDefaultInt("CHATCORE_PORT", 8080)
	p.Driver = getEnvOrDefault("CHATCORE_DRIVER", "memory")
	p.DSN = getEnvOrDefault("CHATCORE_DSN", "")
	p.Data = getEnvOrDefault("CHATCORE_DATA", "")

	p.LLMProvider = getEnvOrDefault("CHATCORE_LLM_PROVIDER", "zai")
	p.LLMAPIKey = getEnvOrDefault("CHATCORE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("CHATCORE_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("CHATCORE_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("CHATCORE_LLM_TIMEOUT_SECONDS", 120)

	p.AIEnabled = p.LLMAPIKey != ""

	if _, ok := providerDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, falling back to zai", "provider", p.LLMProvider)
		p.LLMProvider = "zai"
	}
	if defaults, ok := providerDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.EmbeddingProvider = getEnvOrDefault("CHATCORE_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("CHATCORE_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("CHATCORE_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("CHATCORE_EMBEDDING_BASE_URL", "")
	p.EmbeddingDim = getEnvOrDefaultInt("CHATCORE_EMBEDDING_DIM", 1024)

	if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
		if p.EmbeddingBaseURL == "" {
			p.EmbeddingBaseURL = defaults.BaseURL
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaults.Model
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalises Mode, resolves Data for the sqlite driver, and derives
// a DSN default when the sqlite driver is selected without one.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" {
		return nil
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			if runtime.GOOS == "windows" {
				p.Data = filepath.Join(os.Getenv("ProgramData"), "chatcore")
			} else {
				p.Data = "/var/opt/chatcore"
			}
		} else {
			p.Data = "."
		}
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.DSN == "" {
		dbFile := fmt.Sprintf("chatcore_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	return nil
}
