package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string

	AssemblyAIKey   string
	CerebrasKey     string
	CerebrasModelID string

	TTSProvider       string // "deepgram" or "elevenlabs"
	DeepgramKey       string
	DeepgramTTSModel  string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	VADThresholdRMS float64
	VADHangoverMs   int

	ResumeInterruptedAgent bool
	TurnTimeoutSec         int

	ICEServersJSON string

	TwilioAccountSID       string
	TwilioAuthToken        string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	cerebrasKey := os.Getenv("CEREBRAS_API_KEY")
	cerebrasModel := os.Getenv("CEREBRAS_MODEL_ID")
	if cerebrasModel == "" {
		cerebrasModel = "gpt-oss-120b"
	}
	if cerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - agent replies will not work")
	}

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider == "" {
		ttsProvider = "deepgram"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" && ttsProvider == "deepgram" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - TTS will not work")
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" && ttsProvider == "elevenlabs" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - TTS will not work")
	}
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")

	supabaseBucket := os.Getenv("SUPABASE_BUCKET")
	if supabaseBucket == "" {
		supabaseBucket = "debate-transcripts"
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_PROVIDER=%s", addr, ttsProvider)
	return Config{
		HTTPAddress:  addr,
		AuthPassword: os.Getenv("AUTH_PASSWORD"),

		AssemblyAIKey:   assemblyAIKey,
		CerebrasKey:     cerebrasKey,
		CerebrasModelID: cerebrasModel,

		TTSProvider:       ttsProvider,
		DeepgramKey:       deepgramKey,
		DeepgramTTSModel:  deepgramModel,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,

		VADThresholdRMS: getFloat("VAD_THRESHOLD_RMS", 300),
		VADHangoverMs:   getInt("VAD_HANGOVER_MS", 400),

		ResumeInterruptedAgent: getBool("RESUME_INTERRUPTED_AGENT", true),
		TurnTimeoutSec:         getInt("TURN_TIMEOUT_SEC", 60),

		ICEServersJSON: os.Getenv("ICE_SERVERS_JSON"),

		TwilioAccountSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         supabaseBucket,
	}
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a boolean, using %v", key, v, def)
		return def
	}
	return b
}
