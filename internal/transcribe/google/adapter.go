// Package google provides a Google Cloud Speech-to-Text transcription backend.
package google

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// opusSampleRate is the rate browsers record WebM/Ogg Opus at.
const opusSampleRate = 48000

// Adapter transcribes staged files with a synchronous Recognize call, which
// accepts up to one minute of audio.
type Adapter struct {
	client   *speech.Client
	language string
}

// New creates a Google STT adapter. Credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
func New(ctx context.Context, language string) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating speech client: %w", err)
	}
	return &Adapter{client: c, language: languageCode(language)}, nil
}

// Transcribe sends the staged file in a single Recognize request and joins the
// top alternative of every result.
func (a *Adapter) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading audio: %w", err)
	}

	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig(filepath.Ext(path), a.language),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// Accepts reports whether ext maps to an encoding Recognize takes. Compressed
// MP3 and AAC uploads do not: v1 has no AAC encoding and only the beta API
// decodes MP3.
func (a *Adapter) Accepts(ext string) bool {
	return encodingFor(ext) != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func recognitionConfig(ext, language string) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   encodingFor(ext),
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
	switch cfg.Encoding {
	case speechpb.RecognitionConfig_WEBM_OPUS, speechpb.RecognitionConfig_OGG_OPUS:
		cfg.SampleRateHertz = opusSampleRate
	}
	return cfg
}

// encodingFor maps a staged file extension to a recognition encoding.
// WAV and FLAC carry their own headers. Anything else is unspecified.
func encodingFor(ext string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(ext) {
	case ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case ".ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// languageCode expands a bare language hint to a BCP-47 tag the service
// accepts. Tags that already carry a region pass through.
func languageCode(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "":
		return "en-US"
	case "en":
		return "en-US"
	case "es":
		return "es-ES"
	case "de":
		return "de-DE"
	case "fr":
		return "fr-FR"
	default:
		return hint
	}
}
