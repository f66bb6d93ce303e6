package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets the default configuration values. Every key read
// anywhere in the worker has an entry here.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("datadir", "")

	// External decoder binaries, empty means PATH lookup
	viper.SetDefault("decoder.ffmpeg", "")
	viper.SetDefault("decoder.ffprobe", "")

	// Remote transcription
	viper.SetDefault("openai.apikey", "")
	viper.SetDefault("openai.baseurl", "")
	viper.SetDefault("openai.diarizemodel", "gpt-4o-transcribe-diarize")
	viper.SetDefault("openai.transcribemodel", "whisper-1")
	viper.SetDefault("openai.language", "da")
	viper.SetDefault("openai.requesttimeout", 600)
	viper.SetDefault("openai.maxretries", 5)

	// Local fallback engine
	viper.SetDefault("fallback.huggingfacetoken", "")
	viper.SetDefault("fallback.modeldir", "")
	viper.SetDefault("fallback.asrencoder", "whisper-small-encoder.int8.onnx")
	viper.SetDefault("fallback.asrdecoder", "whisper-small-decoder.int8.onnx")
	viper.SetDefault("fallback.asrtokens", "whisper-small-tokens.txt")
	viper.SetDefault("fallback.segmentationmodel", "pyannote-segmentation-3.0.onnx")
	viper.SetDefault("fallback.embeddingmodel", "wespeaker-voxceleb-resnet34.onnx")
	viper.SetDefault("fallback.threads", 4)
	viper.SetDefault("fallback.clusteringthreshold", 0.5)

	// Chunk planning
	viper.SetDefault("chunking.duration", 240.0)
	viper.SetDefault("chunking.overlap", 1.5)

	// File log, stdout stays reserved for the event stream
	viper.SetDefault("log.enabled", true)
	viper.SetDefault("log.path", "logs/transkriptor.log")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.maxsize", 100)
	viper.SetDefault("log.maxbackups", 3)
	viper.SetDefault("log.maxage", 28)

	// Error reporting, opt-in only
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
}
