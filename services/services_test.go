package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "session=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"accessToken":"tok-123","user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	src, err := NewSessionTokenSource(shared.NewNopLogger(), srv.URL, "session=abc")
	require.NoError(t, err)
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	anon, err := NewSessionTokenSource(shared.NewNopLogger(), srv.URL, "")
	require.NoError(t, err)
	_, err = anon.Token(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestSessionTokenSourceMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src, err := NewSessionTokenSource(shared.NewNopLogger(), srv.URL, "")
	require.NoError(t, err)
	_, err = src.Token(context.Background())
	assert.Error(t, err)
}

func TestStaticTokenSource(t *testing.T) {
	tok, err := StaticTokenSource("demo").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", tok)

	_, err = StaticTokenSource("").Token(context.Background())
	assert.Error(t, err)
}

func TestImageUploaderSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "board.jpg", r.FormValue("filename"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "board.jpg", hdr.Filename)
		assert.Equal(t, []byte("jpeg-bytes"), data)
		_, _ = w.Write([]byte(`{"url":"https://img.example/board.jpg"}`))
	}))
	defer srv.Close()

	up, err := NewImageUploader(shared.NewNopLogger(), srv.URL, StaticTokenSource("tok"))
	require.NoError(t, err)
	url, err := up.Upload(context.Background(), []byte("jpeg-bytes"), "board.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/board.jpg", url)
}

func TestImageUploaderReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"file too large"}`))
	}))
	defer srv.Close()

	up, err := NewImageUploader(shared.NewNopLogger(), srv.URL, nil)
	require.NoError(t, err)
	_, err = up.Upload(context.Background(), []byte("x"), "a.jpg")
	assert.ErrorContains(t, err, "file too large")
}

func TestJudge0RunnerPollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-RapidAPI-Key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(71), body["language_id"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"t1"}`))
	})
	mux.HandleFunc("/submissions/t1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"stdout":null,"status":{"id":2,"description":"Processing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"stdout":"42\n","status":{"id":3,"description":"Accepted"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	runner, err := NewJudge0Runner(shared.NewNopLogger(), srv.URL, "key", 5*time.Millisecond)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), "print(42)", LanguagePython)
	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Stdout)
	assert.Equal(t, "Accepted", res.Status.Description)
	assert.EqualValues(t, 3, polls.Load())
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want Language
		ok   bool
	}{
		{in: "Python", want: LanguagePython, ok: true},
		{in: "js", want: LanguageJavascript, ok: true},
		{in: "C++", want: LanguageCpp, ok: true},
		{in: "java", want: LanguageJava, ok: true},
		{in: "cobol", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
