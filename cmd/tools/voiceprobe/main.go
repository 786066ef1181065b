package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-voice/backend/internal/app"
	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/model/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/service/speech"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("配置加载失败")
	}

	mode := flag.String("mode", "resolve", "模式: resolve, list 或 tts")
	userID := flag.String("user", "", "要检查的 user_id")
	text := flag.String("text", "Hello, this is a voice check.", "tts 模式的合成文本")
	outputPath := flag.String("out", "", "tts 输出音频文件路径 (默认自动生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		flag.Usage()
		logger.Fatal().Msg("请通过 -user 指定 user_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, closeStore, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("打开存储失败")
	}
	defer closeStore()

	switch *mode {
	case "resolve":
		profile := loadProfile(ctx, cfg, store, logger, *userID)
		printProfile(profile)
	case "list":
		runList(ctx, cfg, store, logger, *userID)
	case "tts":
		profile := loadProfile(ctx, cfg, store, logger, *userID)
		runTTS(ctx, cfg, logger, profile, *text, *outputPath)
	default:
		flag.Usage()
		logger.Fatal().Str("mode", *mode).Msg("未知模式")
	}
}

func loadProfile(ctx context.Context, cfg *config.Config, store storage.ObjectStore, logger zerolog.Logger, userID string) *persona.Profile {
	loader, err := app.NewProfileLoader(cfg.Persona, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载声音路径配置失败")
	}
	return loader.Load(ctx, userID)
}

func printProfile(profile *persona.Profile) {
	fmt.Printf("user_id:   %s\n", profile.UserID)
	fmt.Printf("name:      %s\n", profile.Name)
	fmt.Printf("biography: %d chars\n", len(profile.Biography))
	if profile.Voice == nil {
		fmt.Println("voice:     <none>")
		return
	}
	fmt.Printf("voice:     %s (from %s)\n", profile.Voice.VoiceID, profile.Voice.Source)
}

// runList shows which layout probes exist for the user, then every object under the user's prefix.
func runList(ctx context.Context, cfg *config.Config, store storage.ObjectStore, logger zerolog.Logger, userID string) {
	layout, err := config.LoadVoiceLayout(cfg.Persona.LayoutFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载声音路径配置失败")
	}
	for i, path := range layout.Paths(userID) {
		ok, err := store.Exists(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("检查对象失败")
		}
		fmt.Printf("probe %d  %-5t  %s\n", i, ok, path)
	}

	paths, err := store.List(ctx, userID+"/")
	if err != nil {
		logger.Fatal().Err(err).Msg("列出对象失败")
	}
	for _, path := range paths {
		fmt.Println(path)
	}
}

func runTTS(ctx context.Context, cfg *config.Config, logger zerolog.Logger, profile *persona.Profile, text, outputPath string) {
	if !cfg.Speech.Enabled {
		logger.Fatal().Msg("语音服务未启用，请先配置 ELEVEN_LABS_API 或 OPENAI_API_KEY")
	}
	if profile.Voice == nil {
		logger.Fatal().Str("user_id", profile.UserID).Msg("未找到声音记录，无法合成")
	}

	svc, err := speech.NewService(app.SpeechModelConfig(cfg.Speech))
	if err != nil {
		logger.Fatal().Err(err).Msg("创建语音服务失败")
	}

	logger.Info().Str("user_id", profile.UserID).Str("voice", profile.Voice.VoiceID).Str("provider", svc.Provider()).Msg("开始进行 TTS 测试")

	resp, err := svc.SynthesizeToBuffer(ctx, profile.UserID, text, profile.Voice.VoiceID)
	if err != nil {
		logger.Fatal().Err(err).Msg("TTS 调用失败")
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-%s-%d.mp3", profile.UserID, time.Now().Unix())
	}
	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		logger.Fatal().Err(err).Msg("写入音频文件失败")
	}

	logger.Info().Str("file", outputPath).Int("bytes", len(resp.AudioData)).Msg("TTS 合成成功")
}
