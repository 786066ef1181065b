package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

var (
	// ErrMissingLLMCredentials 表示所选 LLM 后端缺少密钥或模型配置，启动必须中止。
	ErrMissingLLMCredentials = errors.New("llm credentials or model are not configured")
	// ErrMissingStorage 表示对象存储后端缺少必需配置。
	ErrMissingStorage = errors.New("object storage is not configured")
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	AI      AIConfig
	Speech  SpeechConfig
	Persona PersonaConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	persona, err := loadPersonaConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Storage: storage,
		AI:      ai,
		Speech:  speech,
		Persona: persona,
		Log:     loadLogConfig(),
	}, nil
}

// Validate 检查启动所必需的配置，缺失时返回 ConfigurationError。
func (c *Config) Validate() error {
	if !c.AI.Enabled() {
		return fmt.Errorf("%w: provider=%s", ErrMissingLLMCredentials, c.AI.Provider)
	}
	switch c.Storage.Backend {
	case StorageS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: STORAGE_BUCKET is required for s3", ErrMissingStorage)
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for redis", ErrMissingStorage)
		}
	}
	return nil
}

// ServerConfig 描述 WebSocket 服务配置。
type ServerConfig struct {
	Addr           string
	LockFile       string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(strings.TrimSpace(os.Getenv("PORT")))
	if err != nil {
		return ServerConfig{}, err
	}

	pingInterval, err := parseDurationEnv("PING_INTERVAL", 30*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	pingTimeout, err := parseDurationEnv("PING_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:           addr,
		LockFile:       getEnvOrDefault("LOCK_FILE", "/tmp/socket_server.lock"),
		PingInterval:   pingInterval,
		PingTimeout:    pingTimeout,
		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
	}, nil
}

func parseAddr(port string) (string, error) {
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Storage backends.
const (
	StorageFS    = "fs"
	StorageS3    = "s3"
	StorageRedis = "redis"
)

// StorageConfig 描述对象存储（人物资料、声音记录）的位置。
type StorageConfig struct {
	Backend string
	Root    string
	Bucket  string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageFS))
	switch backend {
	case StorageFS, StorageS3, StorageRedis:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value %q", backend)
	}

	redisDB := 0
	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StorageConfig{}, err
	} else if db != nil {
		redisDB = *db
	}

	return StorageConfig{
		Backend:       backend,
		Root:          getEnvOrDefault("STORAGE_ROOT", "./data"),
		Bucket:        getEnvOrDefault("GCP_BUCKET_NAME", strings.TrimSpace(os.Getenv("STORAGE_BUCKET"))),
		S3Endpoint:    strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		S3Region:      getEnvOrDefault("S3_REGION", "auto"),
		S3AccessKey:   strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		S3SecretKey:   strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       redisDB,
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "persona:"),
	}, nil
}

// LLM backends.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	HistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Provider != ProviderArk || !c.Enabled() {
		return nil, fmt.Errorf("%w: ark requires ARK_API_KEY + Model or an AK/SK pair", ErrMissingLLMCredentials)
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature32(),
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// Temperature32 returns the configured temperature narrowed for SDKs that take float32.
func (c AIConfig) Temperature32() *float32 {
	if c.Temperature == nil {
		return nil
	}
	val := float32(*c.Temperature)
	return &val
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGemini))

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("LLM_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = max(*override, 2)
	}

	cfg := AIConfig{
		Provider:     provider,
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: historyLimit,
	}

	switch provider {
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Model = strings.TrimSpace(os.Getenv("ARK_MODEL"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	case ProviderGemini:
		cfg.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		cfg.Model = getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro")
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.Model = getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini")
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	default:
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return cfg, nil
}

// TTS backends.
const (
	SpeechElevenLabs = "elevenlabs"
	SpeechOpenAI     = "openai"
)

// SpeechConfig 描述语音合成相关配置
type SpeechConfig struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	Enabled         bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("TTS_PROVIDER", SpeechElevenLabs))

	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	stability, err := parseOptionalFloatEnv("ELEVEN_LABS_STABILITY")
	if err != nil {
		return SpeechConfig{}, err
	}
	similarity, err := parseOptionalFloatEnv("ELEVEN_LABS_SIMILARITY")
	if err != nil {
		return SpeechConfig{}, err
	}

	cfg := SpeechConfig{
		Provider:        provider,
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
		Stability:       0.75,
		SimilarityBoost: 0.75,
	}
	if stability != nil {
		cfg.Stability = *stability
	}
	if similarity != nil {
		cfg.SimilarityBoost = *similarity
	}

	switch provider {
	case SpeechElevenLabs:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ELEVEN_LABS_API"))
		cfg.BaseURL = getEnvOrDefault("ELEVEN_LABS_BASE_URL", "https://api.elevenlabs.io")
		cfg.Model = getEnvOrDefault("ELEVEN_LABS_MODEL", "eleven_monolingual_v1")
		cfg.OutputFormat = getEnvOrDefault("ELEVEN_LABS_OUTPUT_FORMAT", "mp3_44100_128")
	case SpeechOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		cfg.Model = getEnvOrDefault("OPENAI_TTS_MODEL", "tts-1")
		cfg.OutputFormat = "mp3"
	default:
		return SpeechConfig{}, fmt.Errorf("invalid TTS_PROVIDER value %q", provider)
	}

	// 没有语音密钥时仍可运行，回合只返回文本。
	cfg.Enabled = cfg.APIKey != ""
	return cfg, nil
}

// PersonaConfig 描述人物资料与声音解析配置。
type PersonaConfig struct {
	OverrideUserID  string
	OverrideVoiceID string
	LayoutFile      string
	ContextMaxUsers int
}

func loadPersonaConfig() (PersonaConfig, error) {
	maxUsers := 0
	if override, err := parseOptionalIntEnv("CONTEXT_MAX_USERS"); err != nil {
		return PersonaConfig{}, err
	} else if override != nil {
		maxUsers = max(*override, 0)
	}

	return PersonaConfig{
		OverrideUserID:  getEnvOrDefault("VOICE_OVERRIDE_USER", "lbark90"),
		OverrideVoiceID: getEnvOrDefault("VOICE_OVERRIDE_ID", "BqVolG55J1XdqIXpATx4"),
		LayoutFile:      strings.TrimSpace(os.Getenv("VOICE_LAYOUT_FILE")),
		ContextMaxUsers: maxUsers,
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
