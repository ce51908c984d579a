// Package webcast is the HTTP surface: encoded video files, the marker query
// and its websocket push, metrics, and the static site.
package webcast

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/greendrake/hlsstream/hls"
	"github.com/greendrake/hlsstream/marker"
	"github.com/greendrake/hlsstream/metrics"
	"github.com/greendrake/server_client_hierarchy"
)

// DefaultTsStart selects every marker.
const DefaultTsStart = -1.0

type Server struct {
	Addr         string
	VideoDir     string
	StaticDir    string
	PushInterval time.Duration
	Cache        Getter
}

// Web is the top node holding the marker caster.
type Web struct {
	server_client_hierarchy.Node
}

// Run serves until ctx is done. A failing cache read ends the server and is returned.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(s.Addr))
	if err != nil {
		return err
	}

	web := &Web{}
	web.GetNode().ID = "Web [" + s.Addr + "]"
	web.SetContextWaiter(ctx)
	caster := NewCaster(s.Cache, s.PushInterval, cancel)
	web.AddClient(caster)

	s.Register(router.Engine, caster, cancel)
	log.Printf("%v serving %v and %v", web.GetNode().ID, s.VideoDir, s.StaticDir)
	err = router.RunWithContext(ctx)
	cancel(nil)
	web.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Register mounts every route on e. fail is told about cache errors.
func (s *Server) Register(e *gin.Engine, caster *Caster, fail func(error)) {
	e.Use(CrossOrigin())

	e.GET("/video/:fileName", s.video)

	e.GET("/markers", func(c *gin.Context) {
		ts, ok := tsStart(c)
		if !ok {
			return
		}
		var list []marker.Marker
		if _, err := s.Cache.Get(marker.Key, &list); err != nil {
			log.Printf("Web: markers: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			fail(err)
			return
		}
		c.JSON(http.StatusOK, Message{Markers: marker.After(list, ts)})
	})

	e.GET("/markers/ws", func(c *gin.Context) {
		ts, ok := tsStart(c)
		if !ok {
			return
		}
		client := NewClient(c, caster, ts)
		<-client.Done()
	})

	e.GET("/metrics", gin.WrapH(metrics.Handler()))

	static := http.FileServer(http.Dir(s.StaticDir))
	e.NoRoute(func(c *gin.Context) {
		static.ServeHTTP(c.Writer, c.Request)
	})
}

func tsStart(c *gin.Context) (float64, bool) {
	v, ok := c.GetQuery("ts_start")
	if !ok {
		return DefaultTsStart, true
	}
	ts, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(ts) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ts_start must be a number"})
		return 0, false
	}
	return ts, true
}

func (s *Server) video(c *gin.Context) {
	name := c.Param("fileName")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	path := filepath.Join(s.VideoDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	switch filepath.Ext(name) {
	case ".m3u8":
		c.Header("Content-Type", hls.ContentType)
		c.Header("Cache-Control", "no-cache")
	case ".ts":
		c.Header("Content-Type", hls.SegmentContentType)
	}
	c.File(path)
}

// CrossOrigin Access-Control-Allow-Origin any methods
func CrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// ServeMetrics exposes only /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router, err := graceful.New(gin.New(), graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	log.Printf("Metrics [%v] serving", addr)
	err = router.RunWithContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
