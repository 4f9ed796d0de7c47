package middleware

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cartPage отвечает страницей корзины с суммой пожертвования из формы.
func cartPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<p class=\"order-total\">Total: &pound;%s</p>", r.PostForm.Get("donation_amount"))
}

func claimsExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=gift-aid.csv")
	_, _ = io.WriteString(w, "Jane,Doe,12,AB1 2CD,15/03/24,25.00\n")
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGzipMiddleware(t *testing.T) {
	form := url.Values{"donation_amount": {"15.00"}, "add_donation": {"Add Donation"}}.Encode()

	tests := []struct {
		name            string
		handler         http.HandlerFunc
		body            []byte
		gzipRequest     bool
		acceptGzip      bool
		wantStatus      int
		wantEncoding    string
		wantBody        string
		wantDisposition string
	}{
		{
			name:         "gzipped cart form is decoded",
			handler:      cartPage,
			body:         []byte(form),
			gzipRequest:  true,
			acceptGzip:   true,
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     "Total: &pound;15.00",
		},
		{
			name:         "html page compressed",
			handler:      cartPage,
			body:         []byte(form),
			acceptGzip:   true,
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     "Total: &pound;15.00",
		},
		{
			name:       "html page without gzip support",
			handler:    cartPage,
			body:       []byte(form),
			wantStatus: http.StatusOK,
			wantBody:   "Total: &pound;15.00",
		},
		{
			name:            "claims export sent uncompressed",
			handler:         claimsExport,
			acceptGzip:      true,
			wantStatus:      http.StatusOK,
			wantBody:        "Jane,Doe,12,AB1 2CD,15/03/24,25.00\n",
			wantDisposition: "attachment; filename=gift-aid.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if tt.gzipRequest {
				body = gzipBytes(t, body)
			}

			req := httptest.NewRequest(http.MethodPost, "/cart/update", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip, deflate")
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(tt.handler).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			if tt.wantDisposition != "" {
				assert.Equal(t, tt.wantDisposition, res.Header.Get("Content-Disposition"))
			}

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				zr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer zr.Close()
				reader = zr
			}

			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			if strings.HasSuffix(tt.wantBody, "\n") {
				assert.Equal(t, tt.wantBody, string(got))
			} else {
				assert.Contains(t, string(got), tt.wantBody)
			}
		})
	}
}

func TestGzipMiddleware_CorruptBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader("billing_first_name=Jane"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Encoding", "gzip")

	called := false
	rec := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}
