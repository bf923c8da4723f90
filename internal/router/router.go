package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/database"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/mycoool/boneagent/internal/logging"
	"github.com/mycoool/boneagent/internal/middleware"
	"github.com/mycoool/boneagent/internal/sensor"
	"github.com/mycoool/boneagent/internal/stream"
)

// StateReader is the read side of the state store.
type StateReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Sensor is what the API needs from the check-in sensor.
type Sensor interface {
	Network() sensor.NetworkState
	LoadServiceConfig(ctx context.Context) error
}

// LicenseReader yields the current license.
type LicenseReader interface {
	License() (license.License, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Store   StateReader
	Sensor  Sensor
	License LicenseReader
	Hub     *stream.Hub
	Log     logging.Logger
}

// InitRouter builds the local status API.
func InitRouter(deps Deps) *gin.Engine {
	if deps.Log == nil {
		deps.Log = logging.New("api")
	}

	g := gin.New()
	g.Use(middleware.RequestLogger(deps.Log))
	g.Use(gin.Recovery())

	g.GET("/ping", middleware.DisableLogMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	if deps.Hub != nil {
		g.GET("/ws", middleware.DisableLogMiddleware(), deps.Hub.HandleWebSocket)
	}

	h := &handlers{deps: deps}
	api := g.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/bone", h.getBoneInfo)
		api.GET("/network", h.getNetwork)
		api.GET("/service-config", h.getServiceConfig)
		api.POST("/service-config/sync", h.syncServiceConfig)
		api.GET("/license", h.getLicense)
	}

	return g
}

type handlers struct {
	deps Deps
}

func (h *handlers) getBoneInfo(c *gin.Context) {
	blob, ok, err := h.deps.Store.Get(c.Request.Context(), database.KeyBoneInfo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not checked in yet"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(blob))
}

func (h *handlers) getNetwork(c *gin.Context) {
	stored, err := h.deps.Store.HGetAll(c.Request.Context(), database.KeyNetworkInfo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// fields are stored JSON encoded
	decoded := make(map[string]any, len(stored))
	for field, raw := range stored {
		var v any
		if json.Unmarshal([]byte(raw), &v) != nil {
			v = raw
		}
		decoded[field] = v
	}
	c.JSON(http.StatusOK, gin.H{
		"stored":  decoded,
		"current": h.deps.Sensor.Network(),
	})
}

func (h *handlers) getServiceConfig(c *gin.Context) {
	values, err := h.deps.Store.HGetAll(c.Request.Context(), database.KeyServiceConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, values)
}

func (h *handlers) syncServiceConfig(c *gin.Context) {
	err := h.deps.Sensor.LoadServiceConfig(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		var se *bone.StatusError
		if errors.As(err, &se) {
			status = http.StatusBadGateway
		}
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) getLicense(c *gin.Context) {
	lic, err := h.deps.License.License()
	if errors.Is(err, license.ErrNoLicense) {
		c.JSON(http.StatusOK, gin.H{"present": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": true, "claims": lic.Claims})
}
