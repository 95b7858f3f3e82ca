package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nepojang/internal/auth"
	"nepojang/internal/config"
	"nepojang/internal/names"
	"nepojang/internal/security"
	"nepojang/internal/store"
	"nepojang/internal/textures"
)

// maxBodyBytes caps request bodies. Auth payloads are tiny; skin uploads go
// through multipart and get their own budget in the texture validator.
const maxBodyBytes = 16 * 1024

// profileCache is the slice of the redis client the read-side profile
// handlers consult before hitting the store.
type profileCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type Server struct {
	log      *slog.Logger
	cfg      config.Config
	store    store.Store
	auth     *auth.Engine
	names    *names.Engine
	textures textures.Store
	failures *security.FailureTracker
	cache    profileCache
	limiter  *security.LimiterStore
	router   *gin.Engine
	fetch    *http.Client
}

func NewServer(log *slog.Logger, cfg config.Config, st store.Store, authEngine *auth.Engine, nameEngine *names.Engine, tex textures.Store, failures *security.FailureTracker, cache profileCache) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		store:    st,
		auth:     authEngine,
		names:    nameEngine,
		textures: tex,
		failures: failures,
		cache:    cache,
		limiter:  security.NewLimiterStore(25, 50, 10*time.Minute),
		router:   gin.New(),
		fetch:    &http.Client{Timeout: 30 * time.Second},
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())
	r.Use(s.bodyLimitMiddleware())

	r.NoRoute(func(c *gin.Context) { errNotFound.abort(c) })
	r.NoMethod(func(c *gin.Context) { errMethodNotAllowed.abort(c) })
	r.HandleMethodNotAllowed = true

	// Session endpoints
	r.POST("/authenticate", s.authenticate)
	r.POST("/refresh", s.refresh)
	r.POST("/validate", s.validate)
	r.POST("/invalidate", s.invalidate)
	r.POST("/signout", s.signout)

	// Name and profile endpoints
	r.GET("/users/profiles/minecraft/:username", s.ownerAtTime)
	r.GET("/user/profiles/:uuid/names", s.nameHistory)
	r.POST("/profiles/minecraft", s.profilesByNames)

	r.POST("/user/profile/:uuid/skin", s.changeSkin)
	r.PUT("/user/profile/:uuid/skin", s.changeSkin)
	r.DELETE("/user/profile/:uuid/skin", s.changeSkin)

	r.GET("/health", s.health)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

// readJSON consumes the capped body and unmarshals it. The caller aborts with
// the returned error body when ok is false.
func (s *Server) readJSON(c *gin.Context, dst any) bool {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badJSON(err).abort(c)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		badJSON(err).abort(c)
		return false
	}
	return true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
