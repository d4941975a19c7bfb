// Package transport exposes a thin HTTP/WebSocket adapter over a committed
// flowengine.Engine: point queries and table inserts over plain HTTP, and a
// push-on-change stream for materialized views, grounded on the teacher's
// labstack/echo server setup (http/server.go) and its gorilla/websocket
// usage (coordinator.Coordinator). It introduces no engine semantics of its
// own (SPEC_FULL.md §6.2).
package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/flowengine/flowengine"
	"github.com/flowengine/flowengine/record"
)

// Server wraps an echo instance bound to one engine.
type Server struct {
	e   *echo.Echo
	eng *flowengine.Engine
	log *logrus.Entry
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds a Server routing against eng. log receives request and
// websocket lifecycle events.
func New(eng *flowengine.Engine, log *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{e: e, eng: eng, log: log}
	e.GET("/views/:name", s.handleQuery)
	e.POST("/tables/:name", s.handleInsert)
	e.GET("/views/:name/stream", s.handleStream)
	return s
}

// Start listens on addr, blocking until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("transport: listening")
	return s.e.Start(addr)
}

// suffixCmp maps a query-parameter name suffix to a comparison operator,
// "colN" alone meaning equality (spec.md §6's Query shape, SPEC_FULL.md
// §6.2).
var suffixCmp = map[string]record.Cmp{
	"_lt":  record.Lt,
	"_gt":  record.Gt,
	"_lte": record.Lte,
	"_gte": record.Gte,
}

// parseCol extracts the zero-based column index from a "colN" or
// "colN_<suffix>" query parameter name.
func parseCol(param string) (col int, cmp record.Cmp, ok bool) {
	name := param
	cmp = record.Eq
	for suffix, c := range suffixCmp {
		if strings.HasSuffix(param, suffix) {
			name = strings.TrimSuffix(param, suffix)
			cmp = c
			break
		}
	}
	if !strings.HasPrefix(name, "col") {
		return 0, 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "col"))
	if err != nil {
		return 0, 0, false
	}
	return n, cmp, true
}

// parseValue infers a Value's kind from its wire string: an integer if it
// parses as one, text otherwise. The transport has no column-type schema to
// consult, so this is a best-effort inference. handleInsert infers kinds
// differently, from the JSON type (see wireToValue): a JSON number becomes
// an integer and a JSON string stays text even if it holds digits.
func parseValue(raw string) record.Value {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return record.Int(n)
	}
	return record.Text(raw)
}

func (s *Server) handleQuery(c echo.Context) error {
	name := c.Param("name")
	reader, ok := s.eng.ReaderByName(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown view: "+name)
	}

	var q record.Query
	for param, vals := range c.QueryParams() {
		if len(vals) == 0 {
			continue
		}
		col, cmp, ok := parseCol(param)
		if !ok {
			continue
		}
		q.Conditions = append(q.Conditions, record.Condition{Column: col, Cmp: cmp, Value: parseValue(vals[0])})
	}

	rows, err := reader(&q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tuplesToWire(rows))
}

func (s *Server) handleInsert(c echo.Context) error {
	name := c.Param("name")
	writer, ok := s.eng.WriterByName(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown table: "+name)
	}

	var wire []any
	if err := c.Bind(&wire); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed row: "+err.Error())
	}
	row := make(record.Tuple, len(wire))
	for i, v := range wire {
		row[i] = wireToValue(v)
	}

	ts, err := writer(row)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]uint64{"timestamp": ts})
}

// pollInterval governs how often handleStream checks a view's epoch for a
// change; reader.Handle has no per-delta subscription, so this pushes a
// fresh snapshot on every epoch advance rather than one message per
// underlying batch (the same ticker-poll-then-broadcast shape the teacher's
// corpus uses for its own WebSocket feed).
const pollInterval = 200 * time.Millisecond

func (s *Server) handleStream(c echo.Context) error {
	name := c.Param("name")
	handle, ok := s.eng.StreamingReplicaByName(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown view: "+name)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastEpoch uint64
	for {
		select {
		case <-ticker.C:
			epoch := handle.Epoch()
			if epoch == lastEpoch {
				continue
			}
			lastEpoch = epoch
			if err := conn.WriteJSON(tuplesToWire(handle.All())); err != nil {
				s.log.WithError(err).WithField("view", name).Debug("transport: stream write failed, closing")
				return nil
			}
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func tuplesToWire(rows []record.Tuple) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		wire := make([]any, len(row))
		for j, v := range row {
			wire[j] = valueToWire(v)
		}
		out[i] = wire
	}
	return out
}

func valueToWire(v record.Value) any {
	switch v.Kind() {
	case record.KindNull:
		return nil
	case record.KindInt:
		return v.Int64()
	case record.KindTime:
		return v.Timestamp()
	default:
		return v.String()
	}
}

func wireToValue(v any) record.Value {
	switch t := v.(type) {
	case nil:
		return record.Null()
	case float64:
		return record.Int(int64(t))
	case string:
		return record.Text(t)
	default:
		return record.Null()
	}
}
