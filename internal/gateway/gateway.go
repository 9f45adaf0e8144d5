// Package gateway exposes the browser-facing surface: a websocket endpoint
// that ingests base64 microphone audio from the web client and streams live
// transcription output back, plus a token endpoint for self-hosted
// deployments.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt"

	"github.com/syedabdeen/minutevault/internal/config"
	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/transcribe"
	"github.com/syedabdeen/minutevault/internal/version"
)

// Gateway is the HTTP/WebSocket front of the recording backend.
type Gateway struct {
	cfg    *config.Config
	tokens transcribe.TokenSource
	app    *fiber.App
}

// New assembles the fiber application and its routes.
func New(cfg *config.Config) *Gateway {
	g := &Gateway{
		cfg: cfg,
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
	}

	if cfg.TokenURL != "" {
		g.tokens = transcribe.NewHTTPTokenSource(cfg.TokenURL)
	} else {
		g.tokens = localIssuer{secret: cfg.TokenSecret, ttl: cfg.TokenTTL}
	}

	g.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Version})
	})

	g.app.Post("/v1/token", g.handleToken)

	g.app.Use("/v1/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	g.app.Get("/v1/stream", websocket.New(g.handleStream))

	return g
}

// Listen serves until Shutdown is called.
func (g *Gateway) Listen() error {
	logging.Info(logging.CategoryGateway, "gateway listening addr=%s", g.cfg.ListenAddr)
	return g.app.Listen(g.cfg.ListenAddr)
}

// Shutdown stops the server gracefully.
func (g *Gateway) Shutdown() error {
	return g.app.Shutdown()
}

// handleToken mints a short-lived HMAC token for the transcription backend.
// Deployments with a remote issuer configure MV_TOKEN_URL instead and never
// hit this path from the session.
func (g *Gateway) handleToken(c *fiber.Ctx) error {
	if g.cfg.TokenSecret == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "token issuing is not configured",
		})
	}

	issuer := localIssuer{secret: g.cfg.TokenSecret, ttl: g.cfg.TokenTTL}
	signed, err := issuer.Token(context.Background())
	if err != nil {
		logging.Error(logging.CategoryGateway, "failed to sign token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to issue token"})
	}

	return c.JSON(fiber.Map{"token": signed})
}

// localIssuer is the TokenSource used when the gateway signs its own
// backend tokens.
type localIssuer struct {
	secret string
	ttl    time.Duration
}

// Token implements transcribe.TokenSource.
func (l localIssuer) Token(_ context.Context) (string, error) {
	if l.secret == "" {
		return "", errors.New("token issuing is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "minutevault",
		"iat": now.Unix(),
		"exp": now.Add(l.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.secret))
}
