package api

import (
	"context"
	"sync"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/duowatch/config"
	_ "github.com/d60-Lab/duowatch/docs"
	"github.com/d60-Lab/duowatch/internal/api/handler"
	"github.com/d60-Lab/duowatch/internal/api/middleware"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/service"
)

// Deps 路由依赖
type Deps struct {
	Config   *config.Config
	Verifier *auth.Verifier
	Accounts service.AccountService
	Pairing  service.PairingService
	Lists    handler.ListService
	Search   service.SearchService
	Ping     func(context.Context) error
}

func NewRouter(d Deps) *gin.Engine {
	registerValidators()

	r := gin.New()
	// sentrygin 上报后重新 panic，由 Recovery 兜底返回 500
	r.Use(gin.Recovery(), sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(middleware.RequestID(), middleware.Logger(), gzip.Gzip(gzip.DefaultCompression))
	if d.Config.Tracing.Enabled {
		r.Use(otelgin.Middleware(d.Config.Tracing.ServiceName))
	}

	h := handler.New(d.Pairing, d.Lists, d.Search, d.Ping)
	limiter := middleware.NewRateLimiter(d.Config.RateLimit.RPS, d.Config.RateLimit.Burst)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1", middleware.Auth(d.Verifier, d.Accounts), limiter.Middleware())
	{
		lists := v1.Group("/lists")
		lists.GET("/mine", h.MyList)
		lists.GET("/partner", h.PartnerList)
		lists.GET("/common", h.CommonList)
		lists.POST("/mine", h.AddItem)
		lists.DELETE("/mine", h.RemoveItem)
		lists.POST("/refresh", h.Refresh)

		pairing := v1.Group("/pairing")
		pairing.POST("/connect", h.Connect)
		pairing.POST("/disconnect", h.Disconnect)
		pairing.GET("/status", h.Status)

		v1.GET("/search", h.Search)
		v1.GET("/discover", h.Discover)
	}
	return r
}

var registerOnce sync.Once

// registerValidators 注册 mediatype 校验标签
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("mediatype", func(fl validator.FieldLevel) bool {
				return model.MediaType(fl.Field().String()).Valid()
			})
		}
	})
}
