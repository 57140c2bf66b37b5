package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/providers/stt"
	"github.com/yoockh/voicelab/internal/services"
)

type TranscriptionHandler struct {
	svc services.TranscriptionService
	log *logrus.Logger
}

func NewTranscriptionHandler(svc services.TranscriptionService, log *logrus.Logger) *TranscriptionHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TranscriptionHandler{svc: svc, log: log}
}

type TranscribeResponse struct {
	// Transcription is a string, or a list of timestamped fragments when
	// return_timestamps was set.
	Transcription any  `json:"transcription"`
	RecordID      uint `json:"record_id"`
}

func readTranscribeInput(c *gin.Context, op string) (services.TranscribeInput, error) {
	data, name, err := readUpload(c, op, "file")
	if err != nil {
		return services.TranscribeInput{}, err
	}
	ts, err := formBool(op, "return_timestamps", c.PostForm("return_timestamps"))
	if err != nil {
		return services.TranscribeInput{}, err
	}
	return services.TranscribeInput{
		Audio:            data,
		SourceName:       name,
		ReturnTimestamps: ts,
		Tags:             c.PostForm("tags"),
	}, nil
}

func (h *TranscriptionHandler) Transcribe(c *gin.Context) {
	const op = "TranscriptionHandler.Transcribe"

	in, err := readTranscribeInput(c, op)
	if err != nil {
		writeError(c, err)
		return
	}

	out, err := h.svc.Transcribe(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	var body any = out.Result.Transcript()
	if in.ReturnTimestamps {
		body = segmentFragments(out.Result.Segments)
	}
	c.JSON(http.StatusOK, TranscribeResponse{Transcription: body, RecordID: out.RecordID})
}

func segmentFragments(segs []stt.Segment) []stt.Fragment {
	out := make([]stt.Fragment, len(segs))
	for i, s := range segs {
		out[i] = stt.Fragment{Text: s.Text, Timestamp: &[2]float64{s.Start, s.End}}
	}
	return out
}

// TranscribeStream answers with server-sent events, one per fragment:
//
//	data: {"transcription": <fragment>}
//
// Headers go out with the first fragment. Until then a failure is still a
// regular JSON error; afterwards it only ends the stream, and the record
// tells the client what happened.
func (h *TranscriptionHandler) TranscribeStream(c *gin.Context) {
	const op = "TranscriptionHandler.TranscribeStream"

	in, err := readTranscribeInput(c, op)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	st, err := h.svc.StartStream(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	log := h.log.WithFields(logrus.Fields{"op": op, "record_id": st.RecordID})

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		recordIDHeader(c, st.RecordID)
		c.Status(http.StatusOK)
	}

	err = st.Run(ctx, func(f stt.Fragment) error {
		payload, err := json.Marshal(gin.H{"transcription": f})
		if err != nil {
			return err
		}
		begin()
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	switch {
	case err != nil && !started:
		writeError(c, err)
	case err != nil:
		log.WithError(err).Warn("transcription stream ended early")
	default:
		begin()
		c.Writer.Flush()
	}
}
