package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSarvam(t *testing.T, handler http.HandlerFunc) *SarvamClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewSarvamClient("secret",
		SarvamWithBaseURL(srv.URL),
		SarvamWithTimeout(2*time.Second),
		SarvamWithLogger(quietLog),
	)
	require.NoError(t, err)
	return c
}

func TestSarvamClient_Translate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should send the key and cache the translation", func(t *testing.T) {
		var hits atomic.Int32
		c := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			assert.Equal(t, "/translate", r.URL.Path)
			assert.Equal(t, "secret", r.Header.Get("api-subscription-key"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hi-IN", body["source_language_code"])
			assert.Equal(t, "en-IN", body["target_language_code"])
			assert.Empty(t, body["model"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"translated_text":"what is photosynthesis"}`))
		})

		for i := 0; i < 2; i++ {
			got, err := c.Translate(ctx, "प्रकाश संश्लेषण क्या है", "hi-IN", "en-IN")
			require.NoError(t, err)
			assert.Equal(t, "what is photosynthesis", got)
		}
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Should select the translate model for Urdu", func(t *testing.T) {
		c := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "sarvam-translate:v1", body["model"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"translated_text":"hello"}`))
		})
		_, err := c.Translate(ctx, "سلام", "ur-IN", "en-IN")
		require.NoError(t, err)
	})

	t.Run("Should skip the call when languages match", func(t *testing.T) {
		c := newTestSarvam(t, func(http.ResponseWriter, *http.Request) {
			t.Error("unexpected request")
		})
		got, err := c.Translate(ctx, "hello", "en-IN", "en-IN")
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("Should report client errors without retrying", func(t *testing.T) {
		var hits atomic.Int32
		c := newTestSarvam(t, func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			http.Error(w, `{"error":"bad key"}`, http.StatusForbidden)
		})
		_, err := c.Translate(ctx, "x", "ta-IN", "en-IN")
		assert.ErrorIs(t, err, ErrSarvamRequest)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestSarvamClient_Synthesize(t *testing.T) {
	t.Run("Should decode every returned clip", func(t *testing.T) {
		c := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/text-to-speech", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "mp3", body["output_audio_codec"])
			assert.Equal(t, "anushka", body["speaker"])

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string][]string{"audios": {
				base64.StdEncoding.EncodeToString([]byte("ab")),
				base64.StdEncoding.EncodeToString([]byte("cd")),
			}})
		})

		audio, err := c.Synthesize(context.Background(), "hello", "en-IN")
		require.NoError(t, err)
		assert.Equal(t, []byte("abcd"), audio)
	})

	t.Run("Should fail on an empty payload", func(t *testing.T) {
		c := newTestSarvam(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"audios":[]}`))
		})
		_, err := c.Synthesize(context.Background(), "hello", "en-IN")
		assert.ErrorIs(t, err, ErrSarvamRequest)
	})
}

func TestSarvamClient_Transcribe(t *testing.T) {
	t.Run("Should upload the audio as multipart", func(t *testing.T) {
		c := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "ta-IN", r.FormValue("language_code"))
			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, "q.wav", hdr.Filename)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transcript":"வணக்கம்"}`))
		})

		got, err := c.Transcribe(context.Background(), []byte("RIFF"), "q.wav", "ta-IN")
		require.NoError(t, err)
		assert.Equal(t, "வணக்கம்", got)
	})
}
