package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// authMiddleware accepts only the HS256 tokens the login handler issues:
// same secret, same algorithm, and the sub/jti claims it stamps in.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))

		if err != nil || !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}
		sub, _ := claims["sub"].(string)
		jti, _ := claims["jti"].(string)
		if sub == "" || jti == "" {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token claims"})
		}

		c.Locals("sub", sub)
		c.Locals("token_id", jti)
		return c.Next()
	}
}
