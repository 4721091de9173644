package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/session-replay/internal/auth"
)

// jwtMiddleware проверяет Bearer-токен и кладёт данные пользователя в контекст
func (s *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Отсутствует заголовок Authorization"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный формат заголовка Authorization"})
			c.Abort()
			return
		}

		userID, valid, isAdmin := auth.ValidateJWT(parts[1])
		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Недействительный или просроченный токен"})
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Set("is_admin", isAdmin)
		c.Set("token", parts[1])
		c.Next()
	}
}

// adminMiddleware пропускает только администраторов. Ставится после jwtMiddleware.
func (s *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, exists := c.Get("is_admin")
		if !exists || !isAdmin.(bool) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Требуются права администратора"})
			c.Abort()
			return
		}
		c.Next()
	}
}
