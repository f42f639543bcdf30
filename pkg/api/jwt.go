package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/travigo/sirihub/pkg/config"
)

// CustomClaims contains custom data we want from the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// EnsureValidToken is a middleware that will check the validity of our JWT.
func EnsureValidToken(auth config.AuthConfig) (fiber.Handler, error) {
	issuerURL, err := url.Parse("https://" + auth.Domain + "/")
	if err != nil {
		return nil, fmt.Errorf("parse the issuer url: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{auth.Audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("set up the jwt validator: %w", err)
	}

	return func(c *fiber.Ctx) (err error) {
		authHeader := c.Get(fiber.HeaderAuthorization)

		if authHeader == "" {
			c.Status(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Authorization header is required",
			})
		}

		jwtToken := strings.TrimPrefix(authHeader, "Bearer ")
		claimsI, jwtErr := jwtValidator.ValidateToken(c.UserContext(), jwtToken)
		if jwtErr != nil {
			c.Status(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Invalid auth token",
			})
		}

		claims := claimsI.(*validator.ValidatedClaims)
		c.Locals("account_userid", claims.RegisteredClaims.Subject)

		return c.Next()
	}, nil
}
