package controllertest

import (
	"encoding/base64"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/EternisAI/silo-beacon/internal/task"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (c *Controller) setupRoutes(engine *gin.Engine) {
	beats := engine.Group("/", c.requireBeat())
	beats.GET(c.profile.HTTP.TasksPath, c.getTask)
	beats.POST(c.profile.HTTP.ResultsPath, c.postResult)

	engine.GET(c.profile.WebSocket.Path, c.serveWebSocket)
}

// requireBeat rejects HTTP check-ins that do not carry a decodable beat.
func (c *Controller) requireBeat() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := ctx.GetHeader(c.profile.HTTP.BeatHeader)
		beat, err := base64.StdEncoding.DecodeString(raw)
		if raw == "" || err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid beat"})
			return
		}
		c.recordBeat(beat)
		ctx.Next()
	}
}

func (c *Controller) getTask(ctx *gin.Context) {
	t := c.next()
	if t == nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	body, err := task.Encode(t)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.Data(http.StatusOK, "application/json", body)
}

func (c *Controller) postResult(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	r, err := task.DecodeResult(body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.recordResult(r)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (c *Controller) serveWebSocket(ctx *gin.Context) {
	if c.reject {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "upgrade refused"})
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	c.track(conn)
	defer c.untrack(conn)

	_, beat, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if c.profile.WebSocket.ListenerType != 0 && len(beat) >= 4 {
		beat = beat[4:]
	}
	c.recordBeat(beat)

	key, err := SessionKey(beat, c.cipher, c.encryptKey)
	if err != nil {
		slog.Error("Failed to read session key from beat", "error", err)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(msg) < 4 {
			return
		}

		if binary.LittleEndian.Uint32(msg) == 0 {
			if err := c.replyToPoll(conn, key); err != nil {
				return
			}
			continue
		}

		plain, err := c.cipher.Decrypt(msg[4:], key)
		if err != nil {
			return
		}
		r, err := task.DecodeResult(plain)
		if err != nil {
			slog.Error("Failed to decode result", "error", err)
			continue
		}
		c.recordResult(r)
	}
}

func (c *Controller) replyToPoll(conn *websocket.Conn, key []byte) error {
	t := c.next()
	if t == nil {
		return conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4))
	}

	body, err := task.Encode(t)
	if err != nil {
		return err
	}
	ct, err := c.cipher.Encrypt(body, key)
	if err != nil {
		return err
	}

	w, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	w.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(ct))))
	w.Write(ct)
	return w.Close()
}
