// Package httpapi sets up the gin router: static assets, uploads, the
// metrics endpoint and the websocket upgrade.
package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/config"
	"github.com/aurachat/aurad/internal/transport/ws"
)

// ClientTokenMiddleware hands every browser a stable client token via
// cookie. It correlates reconnects in the logs; connection ids are
// minted per upgrade.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, ctl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("AuraSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.Static("/uploads", cfg.UploadDir)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")

	r.MaxMultipartMemory = cfg.MaxUploadMB << 20

	api := r.Group("/api")
	up := &uploadHandler{dir: cfg.UploadDir, maxBytes: cfg.MaxUploadMB << 20}
	api.POST("/upload", up.handle)
	api.POST("/upload/avatar", up.handle)

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "httpapi").Str("conn", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.Handle(c)
	})

	return r
}

// uploadHandler stores a multipart file under a random name and returns
// the reference triple the chat pipeline carries around. Bytes are
// otherwise never touched.
type uploadHandler struct {
	dir      string
	maxBytes int64
}

func (h *uploadHandler) handle(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fh.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	name := uuid.NewString() + filepath.Ext(fh.Filename)
	dst := filepath.Join(h.dir, name)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":  "/uploads/" + name,
		"name": fh.Filename,
		"mime": fh.Header.Get("Content-Type"),
	})
}
