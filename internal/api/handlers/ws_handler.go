package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/services"
	"github.com/yoockh/voicelab/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WSHandler is the websocket flavour of the streaming transcription.
type WSHandler struct {
	svc      services.TranscriptionService
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc services.TranscriptionService, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type wsFragmentMsg struct {
	Transcription stt.Fragment `json:"transcription"`
}

type wsDoneMsg struct {
	RecordID uint   `json:"record_id"`
	Status   string `json:"status"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeError(err error) {
	var ae *utils.AppError
	msg := APIError{Code: utils.CodeInternal, Detail: "Internal Server Error"}
	if errors.As(err, &ae) {
		msg = APIError{Code: ae.Code, Detail: ae.Message}
	}
	_ = w.writeJSON(msg)
}

// TranscribeWS expects exactly one binary message holding the audio, then
// pushes fragments as they are persisted and a final completion message.
func (h *WSHandler) TranscribeWS(c *gin.Context) {
	const op = "WSHandler.TranscribeWS"

	ts, err := formBool(op, "return_timestamps", c.Query("return_timestamps"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxAudioBytes)

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if kind != websocket.BinaryMessage {
		wc.writeError(utils.E(utils.CodeInvalidArgument, op, "expected a binary audio message", nil))
		return
	}

	st, err := h.svc.StartStream(ctx, services.TranscribeInput{
		Audio:            data,
		SourceName:       c.Query("filename"),
		ReturnTimestamps: ts,
		Tags:             c.Query("tags"),
	})
	if err != nil {
		wc.writeError(err)
		return
	}
	log := h.log.WithFields(logrus.Fields{"op": op, "record_id": st.RecordID})

	// Anything the client sends from now on is ignored; a read error means
	// it went away.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = st.Run(ctx, func(f stt.Fragment) error {
		return wc.writeJSON(wsFragmentMsg{Transcription: f})
	})
	if err != nil {
		log.WithError(err).Warn("websocket transcription ended early")
		if ctx.Err() == nil {
			wc.writeError(err)
		}
		return
	}

	_ = wc.writeJSON(wsDoneMsg{RecordID: st.RecordID, Status: "completed"})
	wc.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
	wc.mu.Unlock()
}
