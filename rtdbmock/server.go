package rtdbmock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)


// an in-memory realtime store speaking the REST and event stream wire protocol
// GET/PUT/POST/DELETE <path>.json, and GET with `Accept: text/event-stream`
// used as a test double and as a local development store


func init() {
	gin.SetMode(gin.ReleaseMode)
}


func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		KeepAliveTimeout: 30 * time.Second,
		StreamBufferSize: 1024,
	}
}


type ServerSettings struct {
	KeepAliveTimeout time.Duration
	// a stream that falls this many frames behind is dropped
	StreamBufferSize int
	// when set, requests must carry `auth=<AuthToken>`
	AuthToken string
}


type stream struct {
	path string
	frames chan []byte
}


type Server struct {
	settings *ServerSettings

	router *gin.Engine

	stateLock sync.Mutex
	root any
	nextStreamId int
	streams map[int]*stream
	unavailable bool
	// method+path -> fail
	failures map[string]bool
	requestCounts map[string]int
}

func NewServerWithDefaults() *Server {
	return NewServer(DefaultServerSettings())
}

func NewServer(settings *ServerSettings) *Server {
	server := &Server{
		settings: settings,
		streams: map[int]*stream{},
		failures: map[string]bool{},
		requestCounts: map[string]int{},
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/*path", server.get)
	router.PUT("/*path", server.put)
	router.POST("/*path", server.post)
	router.DELETE("/*path", server.delete)
	server.router = router

	return server
}

func (self *Server) Handler() http.Handler {
	return self.router
}

// serves until `ctx` is done
func (self *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr: addr,
		Handler: self.router,
	}
	go func() {
		<-ctx.Done()
		self.DropStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// the current subtree at `path` as json
func (self *Server) Data(path string) json.RawMessage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return encodeValue(getValue(self.root, splitPath(path)))
}

// writes as if a remote client issued a PUT, including the stream event
func (self *Server) Set(path string, data json.RawMessage) error {
	value, err := decodeValue(data)
	if err != nil {
		return err
	}
	self.write(splitPath(path), value)
	return nil
}

// sends a raw frame to every open stream without touching the tree
func (self *Server) SendFrame(eventType string, data string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.broadcastFrame([]byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)))
}

// while unavailable every request answers 503 and streams are refused
func (self *Server) SetUnavailable(unavailable bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.unavailable = unavailable
}

// requests for exactly `method path` answer 500
func (self *Server) SetFailure(method string, path string, fail bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	key := fmt.Sprintf("%s %s", method, joinPath(splitPath(path)))
	if fail {
		self.failures[key] = true
	} else {
		delete(self.failures, key)
	}
}

func (self *Server) RequestCount(method string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.requestCounts[method]
}

func (self *Server) StreamCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.streams)
}

// closes every open stream. Clients see the stream end.
func (self *Server) DropStreams() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for streamId, stream := range self.streams {
		close(stream.frames)
		delete(self.streams, streamId)
	}
}

func (self *Server) Close() {
	self.DropStreams()
}


// returns the path and false when the request was answered
func (self *Server) begin(c *gin.Context) (string, bool) {
	path, ok := strings.CutSuffix(c.Param("path"), ".json")
	if !ok {
		c.String(http.StatusNotFound, "path must end in .json")
		return "", false
	}
	path = joinPath(splitPath(path))

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.requestCounts[c.Request.Method] += 1

	if self.unavailable {
		c.String(http.StatusServiceUnavailable, "unavailable")
		return "", false
	}
	if self.settings.AuthToken != "" && c.Query("auth") != self.settings.AuthToken {
		c.String(http.StatusUnauthorized, "Permission denied")
		return "", false
	}
	if self.failures[fmt.Sprintf("%s %s", c.Request.Method, path)] {
		c.String(http.StatusInternalServerError, "injected failure")
		return "", false
	}
	return path, true
}

func (self *Server) get(c *gin.Context) {
	path, ok := self.begin(c)
	if !ok {
		return
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		self.stream(c, path)
		return
	}
	c.Data(http.StatusOK, "application/json", self.Data(path))
}

func (self *Server) put(c *gin.Context) {
	path, ok := self.begin(c)
	if !ok {
		return
	}
	value, err := self.readValue(c)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid data; couldn't parse JSON object. %s", err)
		return
	}
	self.write(splitPath(path), value)
	c.Data(http.StatusOK, "application/json", encodeValue(value))
}

func (self *Server) post(c *gin.Context) {
	path, ok := self.begin(c)
	if !ok {
		return
	}
	value, err := self.readValue(c)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid data; couldn't parse JSON object. %s", err)
		return
	}
	// ulids sort by creation time, like the store's push keys
	name := ulid.Make().String()
	self.write(append(splitPath(path), name), value)
	c.JSON(http.StatusOK, gin.H{"name": name})
}

func (self *Server) delete(c *gin.Context) {
	path, ok := self.begin(c)
	if !ok {
		return
	}
	self.write(splitPath(path), nil)
	c.Data(http.StatusOK, "application/json", []byte("null"))
}

func (self *Server) readValue(c *gin.Context) (any, error) {
	data, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	return decodeValue(data)
}

func (self *Server) write(segments []string, value any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.root = setValue(self.root, segments, value)
	self.broadcastPut(joinPath(segments), normalize(value))
}

// must be called with `stateLock`
func (self *Server) broadcastPut(path string, value any) {
	eventSegments := splitPath(path)
	for streamId, stream := range self.streams {
		streamSegments := splitPath(stream.path)
		var relativePath string
		var data any
		if isPrefix(streamSegments, eventSegments) {
			relativePath = joinPath(eventSegments[len(streamSegments):])
			data = value
		} else if isPrefix(eventSegments, streamSegments) {
			relativePath = "/"
			data = getValue(value, streamSegments[len(eventSegments):])
		} else {
			continue
		}
		if !self.offer(stream, putFrame(relativePath, data)) {
			glog.Infof("[mock]drop slow stream %d\n", streamId)
			close(stream.frames)
			delete(self.streams, streamId)
		}
	}
}

// must be called with `stateLock`
func (self *Server) broadcastFrame(frame []byte) {
	for streamId, stream := range self.streams {
		if !self.offer(stream, frame) {
			close(stream.frames)
			delete(self.streams, streamId)
		}
	}
}

func (self *Server) offer(stream *stream, frame []byte) bool {
	select {
	case stream.frames <- frame:
		return true
	default:
		return false
	}
}

func (self *Server) stream(c *gin.Context, path string) {
	streamId, frames := func() (int, chan []byte) {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		streamId := self.nextStreamId
		self.nextStreamId += 1
		frames := make(chan []byte, self.settings.StreamBufferSize)
		// the first frame is always the full subtree
		frames <- putFrame("/", getValue(self.root, splitPath(path)))
		self.streams[streamId] = &stream{
			path: path,
			frames: frames,
		}
		return streamId, frames
	}()
	defer func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if stream, ok := self.streams[streamId]; ok && stream.frames == frames {
			delete(self.streams, streamId)
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(self.settings.KeepAliveTimeout)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := c.Writer.Write([]byte("event: keep-alive\ndata: null\n\n")); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}


func putFrame(path string, data any) []byte {
	eventData := encodeValue(map[string]any{
		"path": path,
		"data": data,
	})
	return []byte(fmt.Sprintf("event: put\ndata: %s\n\n", eventData))
}

func isPrefix(prefix []string, segments []string) bool {
	if len(segments) < len(prefix) {
		return false
	}
	for i, segment := range prefix {
		if segments[i] != segment {
			return false
		}
	}
	return true
}
