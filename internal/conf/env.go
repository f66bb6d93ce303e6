package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps an environment variable onto a configuration key. These are
// the worker's documented overrides; the UI process sets them when spawning
// the worker, so they take precedence over config.yaml.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(value string) error
}

func envBindings() []envBinding {
	return []envBinding{
		{ConfigKey: "datadir", EnvVar: "APP_DATA_DIR", Validate: validateNonBlank},
		{ConfigKey: "decoder.ffmpeg", EnvVar: "FFMPEG_BIN", Validate: validateNonBlank},
		{ConfigKey: "decoder.ffprobe", EnvVar: "FFPROBE_BIN", Validate: validateNonBlank},
		{ConfigKey: "openai.apikey", EnvVar: "OPENAI_API_KEY"},
		{ConfigKey: "openai.requesttimeout", EnvVar: "OPENAI_REQUEST_TIMEOUT_SEC", Validate: validatePositiveInt},
		{ConfigKey: "fallback.huggingfacetoken", EnvVar: "HUGGINGFACE_TOKEN"},
	}
}

// configureEnvironmentVariables binds the documented environment variables
// into viper and validates any that are set.
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}

func bindEnvVars() error {
	for _, binding := range envBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", binding.EnvVar, binding.ConfigKey, err)
		}
		value, ok := os.LookupEnv(binding.EnvVar)
		if !ok || value == "" || binding.Validate == nil {
			continue
		}
		if err := binding.Validate(value); err != nil {
			return fmt.Errorf("invalid %s: %w", binding.EnvVar, err)
		}
	}
	return nil
}

func validateNonBlank(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be blank")
	}
	return nil
}

func validatePositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected an integer, got %q", value)
	}
	if n <= 0 {
		return fmt.Errorf("expected a positive integer, got %d", n)
	}
	return nil
}
