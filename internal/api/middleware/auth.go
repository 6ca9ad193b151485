package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/pkg/logger"
	"github.com/d60-Lab/duowatch/pkg/response"
)

const identityKey = "identity"

// AccountEnsurer 首次认证时建档
type AccountEnsurer interface {
	Ensure(ctx context.Context, id auth.Identity, claims *auth.Claims) (*model.Account, error)
}

// Auth 校验 Bearer 令牌并确保账号存在
func Auth(v *auth.Verifier, accounts AccountEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Unauthorized(c, apperr.Message(err))
			c.Abort()
			return
		}
		id, claims, err := v.Verify(token)
		if err != nil {
			logger.Debug("token rejected", zap.Error(err))
			response.Unauthorized(c, apperr.Message(err))
			c.Abort()
			return
		}
		if _, err := accounts.Ensure(c.Request.Context(), id, claims); err != nil {
			response.Error(c, apperr.Status(err), apperr.Message(err))
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// Identity 返回 Auth 写入的调用者身份
func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
