package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
)

func (s *SwapChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}

			s.log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, err)
			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per request to the app logger.
func (s *SwapChatApp) accessLog(next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		s.log.Printf("%s %s %d %dB", p.Request.Method, p.URL.RequestURI(), p.StatusCode, p.Size)
	})
}

func (s *SwapChatApp) authenticate(r *http.Request) (int, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return 0, err
	}

	return s.extractUserIdFromToken(token)
}

func (s *SwapChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, err := s.authenticate(r)
		if err != nil {
			if !errors.Is(err, errMissingToken) {
				s.log.Printf("rejecting session for %s %s: %v", r.Method, r.URL.Path, err)
			}
			s.writeError(w, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
