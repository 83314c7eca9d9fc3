package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Transcriber uploads a staged audio file to /audio/transcriptions.
type Transcriber struct {
	client   *Client
	model    string
	language string
}

// NewTranscriber binds model and language hint to c.
func NewTranscriber(c *Client, model, language string) *Transcriber {
	return &Transcriber{client: c, model: model, language: language}
}

// Transcribe streams the file at path as multipart form data and returns the
// transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()

	body, contentType := t.multipartBody(f, filepath.Base(path))
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.client.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	t.client.setAuth(req)

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading audio: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}
	return out.Text, nil
}

// multipartBody writes the form on a goroutine so the audio is never held in
// memory twice.
func (t *Transcriber) multipartBody(audio io.Reader, filename string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			fw, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(fw, audio); err != nil {
				return err
			}
			if err := mw.WriteField("model", t.model); err != nil {
				return err
			}
			if t.language != "" {
				if err := mw.WriteField("language", t.language); err != nil {
					return err
				}
			}
			if err := mw.WriteField("response_format", "json"); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}
