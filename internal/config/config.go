// Package config loads process configuration: a .env file in
// development via godotenv, then typed fields from the environment with
// documented defaults, logging (never panicking) on a missing optional key.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every knob the engine and its ambient scaffolding read at
// startup.
type Config struct {
	HTTPAddress string

	// Provider credentials for the reference port adapters.
	AssemblyAIKey     string
	CerebrasKey       string
	CerebrasModelID   string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string

	// VectorStoreURL is the base URL of the write-through conversation
	// memory / semantic search sidecar. Empty disables both.
	VectorStoreURL string

	// Optional verification sidecar, used when VerifyMode is "llm".
	VerifyEndpoint string
	VerifyAPIKey   string
	VerifyModel    string

	// Engine knobs.
	MaxLatency        time.Duration
	SessionTimeout    time.Duration
	MinUtteranceBytes int
	WakePhrases       []string
	InterruptPhrases  []string
	WakeSensitivity   float64
	WakeDebounce      time.Duration
	VerifyThreshold   float64
	VerifyEnabled     bool
	VerifyMode        string // "rule" or "llm"

	// Audio format, fixed at the edge per the audio intake gate.
	SampleRate int
	Channels   int
	BitDepth   int

	// Shared-resource protection.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads environment variables (after loading a .env file, if present)
// and returns a Config with sane defaults for everything optional.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found or error loading it:", err)
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),

		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		CerebrasKey:       os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID:   getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnv("DEEPGRAM_MODEL", "aura-asteria-en"),

		VectorStoreURL: os.Getenv("VECTOR_STORE_URL"),

		VerifyEndpoint: os.Getenv("VERIFY_ENDPOINT"),
		VerifyAPIKey:   os.Getenv("VERIFY_API_KEY"),
		VerifyModel:    os.Getenv("VERIFY_MODEL"),

		MaxLatency:        getDurationMillis("MAX_LATENCY_MS", 3*time.Second),
		SessionTimeout:    getDurationMillis("SESSION_TIMEOUT_MS", 5*time.Minute),
		MinUtteranceBytes: getInt("MIN_UTTERANCE_BYTES", 16000),
		WakePhrases:       getList("WAKE_PHRASES", []string{"hey assistant"}),
		InterruptPhrases:  getList("INTERRUPT_PHRASES", []string{"stop", "wait", "cancel"}),
		WakeSensitivity:   getFloat("WAKE_SENSITIVITY", 0.75),
		WakeDebounce:      getDurationMillis("WAKE_DEBOUNCE_MS", time.Second),
		VerifyThreshold:   getFloat("VERIFY_THRESHOLD", 0.6),
		VerifyEnabled:     getBool("VERIFY_ENABLED", true),
		VerifyMode:        getEnv("VERIFY_MODE", "rule"),

		SampleRate: getInt("SAMPLE_RATE", 16000),
		Channels:   getInt("CHANNELS", 1),
		BitDepth:   getInt("BIT_DEPTH", 16),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 10),
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("config: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if cfg.CerebrasKey == "" {
		log.Println("config: CEREBRAS_API_KEY not set - generation will not work")
	}
	if cfg.ElevenLabsKey == "" && cfg.DeepgramKey == "" {
		log.Println("config: neither ELEVENLABS_API_KEY nor DEEPGRAM_API_KEY set - synthesis will not work")
	}
	if cfg.VectorStoreURL == "" {
		log.Println("config: VECTOR_STORE_URL not set - conversation memory write-through and knowledge search disabled")
	}
	if cfg.VerifyMode == "llm" && cfg.VerifyEndpoint == "" {
		log.Println("config: VERIFY_MODE=llm but VERIFY_ENDPOINT not set - falling back to rule-based verification")
	}

	log.Printf("config: HTTP_ADDRESS=%s sample_rate=%d verify_mode=%s", cfg.HTTPAddress, cfg.SampleRate, cfg.VerifyMode)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %v", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %v", key, v, defaultValue)
		return defaultValue
	}
	return b
}

func getDurationMillis(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %v", key, v, defaultValue)
		return defaultValue
	}
	return time.Duration(n) * time.Millisecond
}

// getList splits a comma-separated env var into a trimmed, non-empty slice.
func getList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
