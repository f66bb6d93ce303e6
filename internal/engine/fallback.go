package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
	"golang.org/x/sync/errgroup"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/media"
)

// Whisper ONNX models only take 30 seconds of audio per decode, so turns
// longer than this are recognized in slices.
const maxAsrWindowSec = 28.0

// FallbackEngine transcribes chunks locally with sherpa-onnx when the
// remote engine is exhausted. Diarization runs a pyannote segmentation
// model plus a speaker embedding extractor; ASR runs a whisper ONNX model
// over each diarized turn. Models are loaded lazily, once per process, and
// reused for every chunk.
type FallbackEngine struct {
	token             string
	modelDir          string
	language          string
	threads           int
	clusterThreshold  float32
	segmentationModel string
	embeddingModel    string
	asrEncoder        string
	asrDecoder        string
	asrTokens         string

	initOnce   sync.Once
	initErr    error
	diarizer   *sherpa.OfflineSpeakerDiarization
	recognizer *sherpa.OfflineRecognizer
}

func NewFallbackEngine(settings *conf.Settings) *FallbackEngine {
	return &FallbackEngine{
		token:             settings.Fallback.HuggingFaceToken,
		modelDir:          settings.ModelDir(),
		language:          settings.OpenAI.Language,
		threads:           settings.Fallback.Threads,
		clusterThreshold:  float32(settings.Fallback.ClusteringThreshold),
		segmentationModel: settings.Fallback.SegmentationModel,
		embeddingModel:    settings.Fallback.EmbeddingModel,
		asrEncoder:        settings.Fallback.AsrEncoder,
		asrDecoder:        settings.Fallback.AsrDecoder,
		asrTokens:         settings.Fallback.AsrTokens,
	}
}

func (e *FallbackEngine) init() error {
	e.initOnce.Do(func() { e.initErr = e.load() })
	return e.initErr
}

func (e *FallbackEngine) load() error {
	if e.token == "" {
		return &UnavailableError{Reason: "HUGGINGFACE_TOKEN mangler. Lokal diarization kræver Hugging Face token."}
	}
	var missing []string
	for _, name := range []string{
		e.segmentationModel, e.embeddingModel, e.asrEncoder, e.asrDecoder, e.asrTokens,
	} {
		if _, err := os.Stat(filepath.Join(e.modelDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &UnavailableError{
			Reason: fmt.Sprintf("Fallback-modeller mangler i %s: %s", e.modelDir, strings.Join(missing, ", ")),
		}
	}

	diarizerConfig := sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: filepath.Join(e.modelDir, e.segmentationModel),
			},
			NumThreads: e.threads,
			Debug:      0,
			Provider:   "cpu",
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      filepath.Join(e.modelDir, e.embeddingModel),
			NumThreads: e.threads,
			Debug:      0,
			Provider:   "cpu",
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1,
			Threshold:   e.clusterThreshold,
		},
		MinDurationOn:  0.3,
		MinDurationOff: 0.5,
	}
	diarizer := sherpa.NewOfflineSpeakerDiarization(&diarizerConfig)
	if diarizer == nil {
		return &UnavailableError{Reason: "Kunne ikke initialisere lokal diarization-pipeline."}
	}

	recognizerConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: 16000, FeatureDim: 80},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  filepath.Join(e.modelDir, e.asrEncoder),
				Decoder:  filepath.Join(e.modelDir, e.asrDecoder),
				Language: e.language,
				Task:     "transcribe",
			},
			Tokens:     filepath.Join(e.modelDir, e.asrTokens),
			NumThreads: e.threads,
			Debug:      0,
			Provider:   "cpu",
		},
		DecodingMethod: "greedy_search",
	}
	recognizer := sherpa.NewOfflineRecognizer(&recognizerConfig)
	if recognizer == nil {
		sherpa.DeleteOfflineSpeakerDiarization(diarizer)
		return &UnavailableError{Reason: "Kunne ikke initialisere lokal ASR-model."}
	}

	e.diarizer = diarizer
	e.recognizer = recognizer
	return nil
}

// Close releases the native model handles. Safe to call without a prior
// successful init.
func (e *FallbackEngine) Close() {
	if e.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(e.diarizer)
		e.diarizer = nil
	}
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
}

// TranscribeChunk diarizes the chunk into speaker turns and recognizes the
// text of each turn. Turns without text are discarded. The returned Quality
// is the gate verdict; a failed gate comes back as LowConfidenceError with
// the quality still filled in so callers can report it.
func (e *FallbackEngine) TranscribeChunk(ctx context.Context, wavPath string) ([]Segment, Quality, error) {
	if err := e.init(); err != nil {
		return nil, Quality{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Quality{}, err
	}

	samples, sampleRate, err := media.ReadWAVFloat32(wavPath)
	if err != nil {
		return nil, Quality{}, err
	}
	if want := e.diarizer.SampleRate(); sampleRate != want {
		return nil, Quality{}, fmt.Errorf("chunk %s has sample rate %d, pipeline expects %d",
			filepath.Base(wavPath), sampleRate, want)
	}

	turns := e.diarizer.Process(samples)
	if len(turns) == 0 {
		return nil, Quality{}, &EmptyResultError{}
	}

	// The recognizer decodes independent streams, so turns are recognized
	// concurrently. Results land in a slice indexed by turn to keep the
	// output in diarization order.
	texts := make([]string, len(turns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.threads))
	for i := range turns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts[i] = e.recognizeRange(samples, sampleRate, float64(turns[i].Start), float64(turns[i].End))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Quality{}, err
	}

	segments := make([]Segment, 0, len(turns))
	for i := range turns {
		if texts[i] == "" {
			continue
		}
		segments = append(segments, Segment{
			StartSec: float64(turns[i].Start),
			EndSec:   float64(turns[i].End),
			Speaker:  fmt.Sprintf("speaker_%d", turns[i].Speaker),
			Text:     texts[i],
		})
	}
	if len(segments) == 0 {
		return nil, Quality{}, &EmptyResultError{}
	}

	quality := assess(segments)
	if !quality.Passed {
		return nil, quality, &LowConfidenceError{Quality: quality}
	}
	return segments, quality, nil
}

func (e *FallbackEngine) recognizeRange(samples []float32, sampleRate int, startSec, endSec float64) string {
	lo := int(startSec * float64(sampleRate))
	hi := int(endSec * float64(sampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(samples) {
		hi = len(samples)
	}
	if hi <= lo {
		return ""
	}

	window := int(maxAsrWindowSec * float64(sampleRate))
	var parts []string
	for lo < hi {
		end := lo + window
		if end > hi {
			end = hi
		}
		if text := e.recognize(samples[lo:end], sampleRate); text != "" {
			parts = append(parts, text)
		}
		lo = end
	}
	return strings.Join(parts, " ")
}

func (e *FallbackEngine) recognize(samples []float32, sampleRate int) string {
	stream := sherpa.NewOfflineStream(e.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	e.recognizer.Decode(stream)
	return strings.TrimSpace(stream.GetResult().Text)
}
