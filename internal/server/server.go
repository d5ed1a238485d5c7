package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"github.com/badgeratu/nupkgd/internal/cache"
	"github.com/badgeratu/nupkgd/internal/config"
	"github.com/badgeratu/nupkgd/internal/feed"
	"github.com/badgeratu/nupkgd/internal/storage"
)

// Response buffer pool for reducing allocations
var responseBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Server serves the package feed over HTTP. The directory cache decides per
// request whether the listing is still valid; misses are recomputed through
// a singleflight group so a burst of cold requests triggers one scan.
type Server struct {
	config    *config.Config
	dirCache  *cache.DirectoryCache
	respCache *cache.ResponseCache
	scanner   *feed.Scanner
	packages  *storage.LocalStorage
	mirror    storage.Storage // nil when no S3 mirror is configured
	router    *gin.Engine
	sf        singleflight.Group
}

func New(cfg *config.Config) *Server {
	if cfg.LogLevel == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %d - %v %s %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.StatusCode,
			param.Latency,
			param.Method,
			param.Path,
		)
	}))
	router.Use(gzip.Gzip(gzip.BestSpeed))

	packages, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("Failed to open package directory")
	}

	var mirror storage.Storage
	if cfg.MirrorEnabled() {
		mirror, err = storage.NewS3Storage(&storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			UseSSL:          cfg.S3UseSSL,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect S3 mirror")
		}
	}

	policy := cache.ValidationPolicy{
		SearchPattern:     cfg.SearchPattern,
		CheckCount:        cfg.CheckCount,
		CheckModifiedDate: cfg.CheckModifiedDate,
		Enabled:           cfg.CacheEnabled,
	}

	s := &Server{
		config:    cfg,
		dirCache:  cache.NewDirectoryCache(cfg.DataDir, policy),
		respCache: cache.NewResponseCache(cfg.ResponseCacheSize),
		scanner:   feed.NewScanner(cfg.DataDir, cfg.SearchPattern),
		packages:  packages,
		mirror:    mirror,
		router:    router,
	}

	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHome)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.GET("/packages", s.handleListPackages)
	api.GET("/packages/:id", s.handlePackageVersions)
	api.GET("/packages/:id/:version", s.handlePackageVersion)
	api.PUT("/packages", s.handlePush)
	api.DELETE("/packages/:id/:version", s.handleDelete)

	// Raw package downloads
	s.router.GET("/packages/:id/:version", s.handleDownload)

	s.router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
}

// listing returns the current package listing, serving from the directory
// cache when its fingerprint still matches the tree. Misses are coalesced:
// concurrent cold requests share one scan. The cache itself stays
// best-effort; callers going through it directly may still scan twice.
func (s *Server) listing(ctx context.Context) ([]feed.Package, error) {
	v, err := s.dirCache.Get()
	if err != nil {
		return nil, err
	}
	if pkgs, ok := v.([]feed.Package); ok {
		return pkgs, nil
	}

	result, err, _ := s.sf.Do("listing", func() (interface{}, error) {
		pkgs, err := s.scanner.Scan(ctx)
		if err != nil {
			return nil, err
		}
		s.dirCache.Set(pkgs)
		// Marshaled responses may describe the previous directory state.
		s.respCache.Clear()
		log.Info().Int("packages", len(pkgs)).Msg("Package listing recomputed")
		return pkgs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]feed.Package), nil
}

// marshalResponse encodes v with sonic through a pooled buffer and returns a
// copy safe to cache and send.
func marshalResponse(v interface{}) ([]byte, error) {
	buf := responseBufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		responseBufferPool.Put(buf)
	}()

	if err := sonic.ConfigFastest.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}

func (s *Server) serveJSON(c *gin.Context, key string, build func() interface{}) {
	if data, found := s.respCache.Get(key); found {
		c.Data(http.StatusOK, "application/json", data)
		return
	}

	data, err := marshalResponse(build())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to encode response")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encoding failed"})
		return
	}
	s.respCache.Set(key, data, s.config.ResponseTTL)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleHome(c *gin.Context) {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>nupkgd - package feed</title></head>
<body>
	<h1>nupkgd</h1>
	<p>Directory-backed NuGet package feed.</p>
	<ul>
		<li>Data directory: %s</li>
		<li>Search pattern: %s</li>
	</ul>
	<p><a href="/api/packages">Browse packages</a> | <a href="/health">Health Check</a></p>
</body>
</html>`, s.config.DataDir, s.config.SearchPattern)

	c.Header("Content-Type", "text/html")
	c.String(http.StatusOK, html)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"data_dir": s.config.DataDir,
	})
}

func (s *Server) handleListPackages(c *gin.Context) {
	pkgs, err := s.listing(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build package listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packages"})
		return
	}

	s.serveJSON(c, "packages", func() interface{} {
		if pkgs == nil {
			pkgs = []feed.Package{}
		}
		return gin.H{
			"count":    len(pkgs),
			"packages": pkgs,
		}
	})
}

func (s *Server) handlePackageVersions(c *gin.Context) {
	id := c.Param("id")

	pkgs, err := s.listing(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build package listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packages"})
		return
	}

	versions := feed.Versions(pkgs, id)
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
		return
	}

	s.serveJSON(c, "package:"+feed.CanonicalID(id), func() interface{} {
		return gin.H{
			"id":       versions[0].ID,
			"count":    len(versions),
			"versions": versions,
		}
	})
}

func (s *Server) handlePackageVersion(c *gin.Context) {
	pkgs, err := s.listing(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build package listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packages"})
		return
	}

	pkg, ok := feed.Find(pkgs, c.Param("id"), c.Param("version"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "package version not found"})
		return
	}
	c.JSON(http.StatusOK, pkg)
}

func (s *Server) handleDownload(c *gin.Context) {
	pkgs, err := s.listing(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build package listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packages"})
		return
	}

	pkg, ok := feed.Find(pkgs, c.Param("id"), c.Param("version"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "package version not found"})
		return
	}

	rc, info, err := s.packages.Get(c.Request.Context(), filepath.ToSlash(pkg.Path))
	if err != nil {
		log.Error().Err(err).Str("path", pkg.Path).Msg("Failed to open package file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open package"})
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.%s.nupkg"`, pkg.ID, pkg.Version),
	})
}

func (s *Server) handlePush(c *gin.Context) {
	// Spool the upload to disk first: the manifest has to be read before the
	// archive can be named and stored.
	tmp, err := os.CreateTemp("", "nupkgd-push-*")
	if err != nil {
		log.Error().Err(err).Msg("Failed to create spool file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := tmp.ReadFrom(c.Request.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to spool upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	pkg, err := feed.ReadManifest(tmpPath)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected push of invalid package")
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a valid package archive"})
		return
	}

	key := fmt.Sprintf("%s.%s.nupkg", pkg.ID, pkg.Version)
	exists, err := s.packages.Exists(c.Request.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to check for existing package")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	if !exists {
		// The storage key only covers the root layout; the same id/version
		// may already be indexed from a subdirectory.
		pkgs, err := s.listing(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to build package listing")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}
		_, exists = feed.Find(pkgs, pkg.ID, pkg.Version)
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "package version already exists"})
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reopen spool file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	_, err = s.packages.Put(c.Request.Context(), key, f, size, "application/zip")
	f.Close()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to store pushed package")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	s.mirrorPut(key, tmpPath, size)
	s.respCache.Clear()

	log.Info().
		Str("id", pkg.ID).
		Str("version", pkg.Version).
		Int64("size", size).
		Msg("Package pushed")

	c.JSON(http.StatusCreated, pkg)
}

func (s *Server) handleDelete(c *gin.Context) {
	pkgs, err := s.listing(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build package listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packages"})
		return
	}

	pkg, ok := feed.Find(pkgs, c.Param("id"), c.Param("version"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "package version not found"})
		return
	}

	key := filepath.ToSlash(pkg.Path)
	if err := s.packages.Delete(c.Request.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to delete package")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	if s.mirror != nil {
		if err := s.mirror.Delete(context.Background(), key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to delete package from mirror")
		}
	}
	s.respCache.Clear()

	log.Info().Str("id", pkg.ID).Str("version", pkg.Version).Msg("Package deleted")
	c.Status(http.StatusNoContent)
}

// mirrorPut uploads a pushed package to the S3 mirror. Mirroring is best
// effort; failures are logged, the push itself has already succeeded.
func (s *Server) mirrorPut(key, path string, size int64) {
	if s.mirror == nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to reopen package for mirroring")
		return
	}
	defer f.Close()

	if _, err := s.mirror.Put(context.Background(), key, f, size, "application/zip"); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to mirror package")
		return
	}
	log.Debug().Str("key", key).Msg("Package mirrored")
}
