package middleware

import "net/http"

// DefaultMaxBodyBytes はJSONリクエストボディの上限（1MiB）。
const DefaultMaxBodyBytes int64 = 1 << 20

// NewBodyLimitMiddleware はリクエストボディをmaxBytesに制限するミドルウェアを返す。
// Content-Lengthが上限を超える場合は読み込む前に413を返す。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteErrorBody(w, http.StatusRequestEntityTooLarge, ErrorResponseBody{
					Code:     "PAYLOAD_TOO_LARGE",
					Message:  "リクエストボディが大きすぎます。",
					Category: "validation",
					Action:   "送信するデータを小さくしてください。",
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
