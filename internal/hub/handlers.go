package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"qrypub/internal/keys"
	"qrypub/internal/socketio"
	"qrypub/pkg/protocol"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Challenge issues a single use challenge for a registered instance key.
func (h *Hub) Challenge(c *gin.Context) {
	pub, ok := h.registeredKey(c)
	if !ok {
		return
	}
	challenge, err := h.challenges.Issue(pub)
	if err != nil {
		h.logger.Error("issue challenge", zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Session exchanges a signed challenge for a socket session token.
func (h *Hub) Session(c *gin.Context) {
	pub, ok := h.registeredKey(c)
	if !ok {
		return
	}
	challenge, ok := h.challenges.Take(pub)
	if !ok {
		c.String(http.StatusUnauthorized, "no pending challenge")
		return
	}
	if err := keys.VerifyMessage(pub, c.GetHeader(protocol.HeaderSignature), challenge); err != nil {
		h.logger.Info("challenge signature rejected", zap.String("public_key", pub), zap.Error(err))
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}
	token, err := h.sessions.Issue(pub)
	if err != nil {
		h.logger.Error("issue session", zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.String(http.StatusOK, token)
}

// registeredKey resolves the instance key header. It writes the
// not-registered response itself when the key is unknown.
func (h *Hub) registeredKey(c *gin.Context) (string, bool) {
	pub, err := keys.NormalizePublicKey(c.GetHeader(protocol.HeaderInstanceKey))
	if err != nil {
		c.String(http.StatusForbidden, protocol.NotRegistered)
		return "", false
	}
	if _, err := h.registry.Get(pub); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.String(http.StatusForbidden, protocol.NotRegistered)
			return "", false
		}
		h.logger.Error("registry lookup failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
		return "", false
	}
	return pub, true
}

type registerRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Name      string `json:"name"`
}

type instanceView struct {
	PublicKey string          `json:"publicKey"`
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	LastSeen  *time.Time      `json:"lastSeen,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func (h *Hub) RegisterInstance(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pub, err := keys.NormalizePublicKey(req.PublicKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := h.registry.Register(pub, req.Name)
	if err != nil {
		h.logger.Error("register instance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("instance registered", zap.String("public_key", pub), zap.String("name", inst.Name))
	c.JSON(http.StatusCreated, instanceView{PublicKey: inst.PublicKey, Name: inst.Name})
}

func (h *Hub) ListInstances(c *gin.Context) {
	list, err := h.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]instanceView, 0, len(list))
	for _, inst := range list {
		v := instanceView{
			PublicKey: inst.PublicKey,
			Name:      inst.Name,
			Connected: h.Connected(inst.PublicKey),
			LastSeen:  inst.LastSeen,
		}
		if inst.Metadata != "" {
			v.Metadata = json.RawMessage(inst.Metadata)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Hub) InstanceEvents(c *gin.Context) {
	pub, ok := h.pathKey(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.ListFor(pub))
}

func (h *Hub) InstanceUsage(c *gin.Context) {
	pub, ok := h.pathKey(c)
	if !ok {
		return
	}
	reports, err := h.registry.UsageReports(pub)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": protocol.NotRegistered})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]protocol.ApiUsageMapData, 0, len(reports))
	for _, r := range reports {
		out = append(out, protocol.ApiUsageMapData{Usage: r.Usage, FromTs: r.FromTs, ToTs: r.ToTs})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Hub) MetadataRequest(c *gin.Context) {
	pub, ok := h.pathKey(c)
	if !ok {
		return
	}
	if err := h.RequestMetadata(pub); err != nil {
		if errors.Is(err, socketio.ErrNotConnected) {
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not connected"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Hub) pathKey(c *gin.Context) (string, bool) {
	pub, err := keys.NormalizePublicKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return pub, true
}
