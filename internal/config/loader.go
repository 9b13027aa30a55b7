package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai"},
	"tts": {"openai"},
	"vlm": {"openai"},
}

// validate is the shared validator instance for struct-tag validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config: %s fails %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if cfg.Process.LogLevel != "" && !cfg.Process.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("process.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Process.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vlm", cfg.Providers.VLM.Name)

	// Differencing thresholds must keep their ordering; an inverted pair
	// would make the staleness rule stricter than the immediate rule.
	for _, v := range []struct {
		section string
		cfg     VisionConfig
	}{{"vision", cfg.Vision}, {"screen", cfg.Screen}} {
		if v.cfg.MotionThreshold > 0 && v.cfg.ChangeThreshold > 0 && v.cfg.MotionThreshold >= v.cfg.ChangeThreshold {
			errs = append(errs, fmt.Errorf("%s.motion_threshold %.3f must be below %s.change_threshold %.3f",
				v.section, v.cfg.MotionThreshold, v.section, v.cfg.ChangeThreshold))
		}
	}

	// Interrupt windows longer than the interval between them would keep the
	// mic permanently open during playback.
	if cfg.Voice.CheckIntervalMS > 0 && cfg.Voice.CheckDurationMS > 0 &&
		cfg.Voice.CheckDurationMS >= cfg.Voice.CheckIntervalMS {
		errs = append(errs, fmt.Errorf("voice.check_duration_ms %d must be below voice.check_interval_ms %d",
			cfg.Voice.CheckDurationMS, cfg.Voice.CheckIntervalMS))
	}

	// Backend availability warnings.
	if cfg.Providers.STT.Name != "" && cfg.Providers.STT.APIKey == "" && cfg.Providers.STT.BaseURL == "" {
		slog.Warn("providers.stt has no api_key and no base_url; transcription calls will likely fail")
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.APIKey == "" && cfg.Providers.TTS.BaseURL == "" {
		slog.Warn("providers.tts has no api_key and no base_url; synthesis calls will likely fail")
	}
	if cfg.Providers.VLM.Name != "" && cfg.Providers.VLM.APIKey == "" && cfg.Providers.VLM.BaseURL == "" {
		slog.Warn("providers.vlm has no api_key and no base_url; scene description calls will likely fail")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name; the process may fail to start",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind],
		)
	}
}
