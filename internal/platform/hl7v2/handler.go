package hl7v2

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7gen/internal/batch"
	"github.com/ehr/hl7gen/internal/record"
)

// Response headers set by Encode.
const (
	HeaderControlID        = "X-HL7-Control-ID"
	HeaderObservationCount = "X-HL7-Observation-Count"
)

// Handler provides HTTP endpoints for ORU^R01 message generation.
type Handler struct {
	enc    *Encoder
	runner *batch.Runner
}

// NewHandler creates a new HL7v2 handler.
func NewHandler(enc *Encoder, runner *batch.Runner) *Handler {
	return &Handler{enc: enc, runner: runner}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/encode        - Encode one JSON record
//	POST /api/v1/hl7v2/encode/batch  - Encode a JSON array of records
//	GET  /api/v1/hl7v2/mapping       - Describe the compiled mapping
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/encode", h.Encode)
	g.POST("/hl7v2/encode/batch", h.EncodeBatch)
	g.GET("/hl7v2/mapping", h.Mapping)
}

// Encode handles POST /api/v1/hl7v2/encode.
// It reads a JSON record from the request body and returns the HL7v2
// message as text/plain.
func (h *Handler) Encode(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return bodyError(c, err)
	}

	rec, err := record.ParseJSON(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid record: " + err.Error(),
		})
	}

	msg, err := h.enc.Message(rec)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to generate HL7 message: " + err.Error(),
		})
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderControlID, msg.ControlID())
	hdr.Set(HeaderObservationCount, strconv.Itoa(len(msg.GetSegments("OBX"))))
	return c.Blob(http.StatusOK, "text/plain", []byte(h.enc.Render(msg)))
}

// EncodeBatch handles POST /api/v1/hl7v2/encode/batch.
// Per-record failures are reported in the outcomes; only an unreadable
// array fails the request.
func (h *Handler) EncodeBatch(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return bodyError(c, err)
	}

	items, err := record.ParseJSONList(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid batch: " + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, h.runner.Run(c.Request().Context(), items))
}

// mappingJSON summarizes the compiled mapping.
type mappingJSON struct {
	Segments map[string]int `json:"segments"`
	Groups   []groupJSON    `json:"groups"`
}

type groupJSON struct {
	Tag    string `json:"tag"`
	Fields int    `json:"fields"`
}

// Mapping handles GET /api/v1/hl7v2/mapping.
func (h *Handler) Mapping(c echo.Context) error {
	cfg := h.enc.Config()
	out := mappingJSON{Segments: make(map[string]int), Groups: []groupJSON{}}
	for _, name := range cfg.SegmentOrder() {
		out.Segments[name] = cfg.Segment(name).Len()
	}
	for _, tag := range cfg.GroupOrder() {
		out.Groups = append(out.Groups, groupJSON{Tag: tag, Fields: len(cfg.Group(tag))})
	}
	return c.JSON(http.StatusOK, out)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	return body, nil
}

// bodyError answers a failed body read. Errors raised by middleware wrapping
// the body (such as the size limit) keep their status code.
func bodyError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, map[string]string{
			"error": fmt.Sprint(he.Message),
		})
	}
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": err.Error(),
	})
}
