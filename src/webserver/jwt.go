package webserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

const ctxUserID = "userID"

// JWTMiddleware trusts HS256 tokens signed elsewhere and puts the subject
// into the request context.
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "missing bearer token"})
			return
		}
		tok, err := jwt.Parse(h[7:], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "invalid token"})
			return
		}
		sub, err := tok.Claims.GetSubject()
		if err != nil || sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "token has no subject"})
			return
		}
		c.Set(ctxUserID, sub)
		c.Next()
	}
}

// AdminMiddleware lets only admins through.
func AdminMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user types.User
		err := db.WithContext(c.Request.Context()).First(&user, "id = ?", c.GetString(ctxUserID)).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"err": "failed to load user"})
			return
		}
		if err != nil || !user.IsAdmin || user.Locked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"err": "admin only"})
			return
		}
		c.Next()
	}
}
