// Package config provides the configuration schema and loader for the
// Sensoria perception processes.
//
// One YAML file configures all roles; each process reads the sections
// relevant to the role it was started with. Zero values mean "use the
// component's default", so a minimal config file is valid.
package config

// LogLevel controls log verbosity for a sense process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Role selects which sense or output a process runs.
type Role string

const (
	RoleHearing Role = "hearing"
	RoleVision  Role = "vision"
	RoleScreen  Role = "screen"
	RoleVoice   Role = "voice"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleHearing, RoleVision, RoleScreen, RoleVoice:
		return true
	}
	return false
}

// Config is the root configuration structure for Sensoria.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Process   ProcessConfig   `yaml:"process"`
	Hearing   HearingConfig   `yaml:"hearing"`
	Vision    VisionConfig    `yaml:"vision"`
	Screen    VisionConfig    `yaml:"screen"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ProcessConfig holds settings shared by every role.
type ProcessConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	// (e.g., ":9091").
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// HearingConfig configures the microphone sense.
type HearingConfig struct {
	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate" validate:"omitempty,gt=0"`

	// ChunkMS is the audio chunk duration in milliseconds.
	ChunkMS int `yaml:"chunk_ms" validate:"omitempty,gt=0"`

	// CaptureCommand overrides the recorder subprocess. It must write raw
	// s16le mono PCM at sample_rate to stdout.
	CaptureCommand []string `yaml:"capture_command"`

	// VAD configures the speech segmenter.
	VAD VADConfig `yaml:"vad"`

	// Scorer configures the speech-probability backend.
	Scorer ScorerConfig `yaml:"scorer"`

	// InterruptKeywords overrides the default barge-in keyword list.
	InterruptKeywords []string `yaml:"interrupt_keywords"`

	// HallucinationPhrases overrides the default transcriber-noise phrase
	// list.
	HallucinationPhrases []string `yaml:"hallucination_phrases"`
}

// VADConfig configures speech segmentation.
type VADConfig struct {
	// Threshold is the speech probability at which a chunk counts as speech.
	Threshold float64 `yaml:"threshold" validate:"omitempty,gt=0,lte=1"`

	// MinSpeechMS is the minimum speech duration for a segment.
	MinSpeechMS int `yaml:"min_speech_ms" validate:"omitempty,gt=0"`

	// MinSilenceMS is the silence duration that closes a segment.
	MinSilenceMS int `yaml:"min_silence_ms" validate:"omitempty,gt=0"`

	// SpeechPadMS is the pre-roll retained before speech onset.
	SpeechPadMS int `yaml:"speech_pad_ms" validate:"omitempty,gte=0"`
}

// ScorerConfig selects and tunes the speech-probability backend.
type ScorerConfig struct {
	// Name selects the backend. Currently only "energy".
	Name string `yaml:"name" validate:"omitempty,oneof=energy"`

	// NoiseFloor is the RMS amplitude treated as the speech midpoint by the
	// energy scorer.
	NoiseFloor float64 `yaml:"noise_floor" validate:"omitempty,gt=0"`

	// Steepness is the energy scorer's logistic slope.
	Steepness float64 `yaml:"steepness" validate:"omitempty,gt=0"`
}

// VisionConfig configures a camera or screen sense.
type VisionConfig struct {
	// CaptureIntervalMS is the time between frames.
	CaptureIntervalMS int `yaml:"capture_interval_ms" validate:"omitempty,gt=0"`

	// CaptureCommand overrides the grabber subprocess. It must write an MJPEG
	// stream to stdout.
	CaptureCommand []string `yaml:"capture_command"`

	// ChangeThreshold triggers scene analysis immediately when exceeded.
	ChangeThreshold float64 `yaml:"change_threshold" validate:"omitempty,gt=0,lte=1"`

	// MotionThreshold is the drift/motion sensitivity.
	MotionThreshold float64 `yaml:"motion_threshold" validate:"omitempty,gt=0,lte=1"`

	// MinFramesBetween is the staleness re-analysis frame count.
	MinFramesBetween int `yaml:"min_frames_between" validate:"omitempty,gt=0"`

	// DownsampleFactor shrinks frames before comparison.
	DownsampleFactor int `yaml:"downsample_factor" validate:"omitempty,gte=1"`

	// SidebandSocket, when set, publishes analyzed frames as length-prefixed
	// payloads over this unix socket path.
	SidebandSocket string `yaml:"sideband_socket"`
}

// VoiceConfig configures the speech output process.
type VoiceConfig struct {
	// CheckIntervalMS is the period between interrupt listening windows
	// during playback.
	CheckIntervalMS int `yaml:"check_interval_ms" validate:"omitempty,gt=0"`

	// CheckDurationMS is the length of each listening window.
	CheckDurationMS int `yaml:"check_duration_ms" validate:"omitempty,gt=0"`

	// PlayerCommand overrides the audio player subprocess command.
	PlayerCommand []string `yaml:"player_command"`

	// QueueSize bounds the non-blocking playback queue.
	QueueSize int `yaml:"queue_size" validate:"omitempty,gt=0"`
}

// ProvidersConfig selects the external model backends.
type ProvidersConfig struct {
	STT ProviderConfig `yaml:"stt"`
	TTS ProviderConfig `yaml:"tts"`
	VLM ProviderConfig `yaml:"vlm"`
}

// ProviderConfig holds the settings for one external backend. Fields that do
// not apply to a given kind are ignored.
type ProviderConfig struct {
	// Name selects the backend implementation.
	Name string `yaml:"name"`

	// APIKey authenticates against the backend.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's API endpoint, e.g. for a local
	// OpenAI-compatible server.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model names the model to use.
	Model string `yaml:"model"`

	// Language hints the spoken language to an STT backend.
	Language string `yaml:"language"`

	// Voice selects a TTS voice.
	Voice string `yaml:"voice"`

	// Prompt overrides the scene-description prompt for a VLM backend.
	Prompt string `yaml:"prompt"`
}
