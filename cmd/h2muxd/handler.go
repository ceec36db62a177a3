package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakegut/h2demux/hpack"
	"github.com/jakegut/h2demux/http2"
)

// demoHandler adapts one stream channel to simple request/response
// semantics, the way the teacher's goHandle/StreamWriter/StreamReader did
// for its fixed Stream type — buffer the request body, run a canned
// response, sha256 the body for POSTs. Built fresh per stream by
// the factory newDemoHandlerFactory returns (http2.HandlerFactory never
// reuses a Handler).
type demoHandler struct {
	http2.BaseHandler

	log *zap.Logger

	method    string
	path      string
	authority string
	body      bytes.Buffer
}

func newDemoHandlerFactory(log *zap.Logger) http2.HandlerFactory {
	return func() http2.Handler {
		return &demoHandler{log: log}
	}
}

func (h *demoHandler) HandleActive(ch *http2.StreamChannel) {
	h.log.Debug("stream active", zap.Uint32("stream_id", streamID(ch)))
}

func (h *demoHandler) HandleRead(ch *http2.StreamChannel, frame http2.Frame) {
	switch fr := frame.(type) {
	case *http2.HeadersFrame:
		for _, header := range fr.Headers {
			switch header.Name {
			case ":method":
				h.method = header.Value
			case ":path":
				h.path = header.Value
			case ":authority":
				h.authority = header.Value
			}
		}
		if fr.EndStream {
			h.respond(ch)
		}
	case *http2.DataFrame:
		h.body.Write(fr.Data)
		ch.ConsumeBytes(len(fr.Data))
		if fr.EndStream {
			h.respond(ch)
		}
	}
}

func (h *demoHandler) HandleExceptionCaught(ch *http2.StreamChannel, err error) {
	h.log.Warn("stream exception", zap.Uint32("stream_id", streamID(ch)), zap.Error(err))
}

func (h *demoHandler) HandleInactive(ch *http2.StreamChannel) {
	h.log.Debug("stream inactive", zap.Uint32("stream_id", streamID(ch)))
}

// respond writes the canned response: a greeting naming the request, and,
// for POST bodies, a sha256 digest — the same demo behavior the teacher's
// root main.go exercised against its fixed Stream/StreamWriter pair.
func (h *demoHandler) respond(ch *http2.StreamChannel) {
	var out bytes.Buffer
	fmt.Fprintf(&out, "Hello, %s, method: %s\n", h.authority, h.method)
	if h.method == "POST" {
		sum := sha256.Sum256(h.body.Bytes())
		fmt.Fprintf(&out, "sum: %x\n", sum)
	}

	status := hpack.NewHeader(":status", "200")
	contentType := hpack.NewHeader("content-type", "text/plain; charset=utf-8")
	date := hpack.NewHeader("date", time.Now().UTC().Format(time.RFC1123))

	headers := &http2.HeadersFrame{
		EndStream:  false,
		EndHeaders: true,
		Headers:    []hpack.Header{status, contentType, date},
	}
	ch.Write(headers)

	data := &http2.DataFrame{Data: out.Bytes(), EndStream: true}
	ch.Write(data)
	ch.Flush()
}

func streamID(ch *http2.StreamChannel) uint32 {
	if s := ch.Stream(); s != nil {
		return s.ID
	}
	return 0
}
