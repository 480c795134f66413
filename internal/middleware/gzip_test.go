package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gzipBody(t *testing.T, s string) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	const payload = `{"car_plate":"ABC-1234","customer_cpf":"52998224725"}`

	tests := []struct {
		name            string
		acceptEncoding  string
		compressRequest bool
		wantEncoding    string
	}{
		{
			name:           "client accepts gzip",
			acceptEncoding: "gzip",
			wantEncoding:   "gzip",
		},
		{
			name:           "client does not accept gzip",
			acceptEncoding: "",
			wantEncoding:   "",
		},
		{
			name:            "compressed request body",
			acceptEncoding:  "gzip",
			compressRequest: true,
			wantEncoding:    "gzip",
		},
		{
			name:            "compressed request, plain response",
			acceptEncoding:  "",
			compressRequest: true,
			wantEncoding:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestBody io.Reader = strings.NewReader(payload)
			if tt.compressRequest {
				requestBody = gzipBody(t, payload)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/parking-lots/check-in", requestBody)
			req.Header.Set("Content-Type", "application/json")
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.compressRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}

			w := httptest.NewRecorder()

			h := GzipMiddleware(http.HandlerFunc(echoHandler))
			h.ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding = %q, want %q", ce, tt.wantEncoding)
			}

			var reader io.Reader = res.Body
			if tt.wantEncoding == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer gr.Close()
				reader = gr
			}

			body, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(body) != payload {
				t.Fatalf("body = %q, want %q", string(body), payload)
			}
		})
	}
}

func TestGzipMiddlewareBadCompressedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parking-lots/check-in", strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()

	h := GzipMiddleware(http.HandlerFunc(echoHandler))
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
