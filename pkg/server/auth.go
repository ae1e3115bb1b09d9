package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/estmeter/estmeter/pkg/log"
)

// authMiddleware validates the bearer token on API requests. An empty secret
// disables auth entirely; that is the expected mode for a localhost deploy.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.With(r.Context(), log.Ctx(r.Context()).With(slog.String("reqPath", r.URL.Path)))
		r = r.WithContext(ctx)

		if s.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		var token string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			// browsers cannot set headers on a websocket upgrade
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			log.Ctx(ctx).WarnContext(ctx, "no bearer token found")
			writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		if err := s.validateToken(token); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken checks an HS256 JWT signature and its registered claims
// against the configured secret.
func (s *Server) validateToken(raw string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
