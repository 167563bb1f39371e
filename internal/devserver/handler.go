package devserver

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"campuschat-client/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev server: any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler exposes the dev server's HTTP surface: the websocket endpoint,
// an in-memory file upload endpoint, and retrieval of uploaded files.
type Handler struct {
	hub       *Hub
	jwtSecret string

	filesMux sync.RWMutex
	files    map[string][]byte
}

// NewHandler returns a handler bound to the hub, validating handshake
// tokens with the given secret.
func NewHandler(hub *Hub, jwtSecret string) *Handler {
	return &Handler{
		hub:       hub,
		jwtSecret: jwtSecret,
		files:     make(map[string][]byte),
	}
}

// RegisterRoutes attaches the dev server endpoints to a gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/ws", h.handleWebSocket)
	r.POST("/upload", h.handleUpload)
	r.GET("/files/:id/:name", h.handleFile)
}

// handleWebSocket authenticates the handshake token from the query string
// and hands the upgraded connection to the hub.
func (h *Handler) handleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	claims, err := utils.ValidateToken(h.jwtSecret, tokenString)
	if err != nil {
		log.Printf("Dev server: invalid handshake token: %v", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Dev server: upgrade failed for user %s: %v", claims.UserID, err)
		return
	}
	log.Printf("Dev server: user %s connected (role %s)", claims.UserID, claims.UserRole)

	cl := newClient(h.hub, conn, claims.UserID)
	h.hub.register <- cl

	go cl.writePump()
	go cl.readPump()
}

// handleUpload accepts a multipart file, keeps it in memory, and returns
// the URL it can be fetched from.
func (h *Handler) handleUpload(c *gin.Context) {
	attachmentID := c.PostForm("attachmentId")
	if attachmentID == "" {
		attachmentID = uuid.NewString()
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file part"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot open upload"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read upload"})
		return
	}

	key := attachmentID + "/" + fileHeader.Filename
	h.filesMux.Lock()
	h.files[key] = data
	h.filesMux.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"url": fmt.Sprintf("/files/%s/%s", attachmentID, fileHeader.Filename),
	})
}

func (h *Handler) handleFile(c *gin.Context) {
	key := c.Param("id") + "/" + c.Param("name")
	h.filesMux.RLock()
	data, ok := h.files[key]
	h.filesMux.RUnlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
