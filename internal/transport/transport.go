// Package transport implements the Stream Transport (C5): echo-based
// HTTP routes, an SSE writer for the chat stream, and the non-stream
// CRUD surface over threads and messages.
//
// The SSE writer follows the familiar headers/http.Flusher/
// fmt.Fprintf record-writing shape, adapted to drain the Coordinator's
// channel contract instead of a bus subscription.
package transport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/coordinator"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/registry"
	"github.com/hrygo/chatcore/internal/store"
)

// AgentDescriptor documents one registered agent for GET /chat/agents.
type AgentDescriptor struct {
	ID          string
	Name        string
	Description string
}

// Service holds the dependencies the transport layer calls into and
// registers the chat HTTP surface's routes.
type Service struct {
	Coordinator *coordinator.Coordinator
	Repo        store.Repository
	Registry    registry.Registry
	Agents      []AgentDescriptor
	Logger      *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Register mounts the chat routes under prefix (e.g. "/api/v1").
func (s *Service) Register(e *echo.Echo, prefix string) {
	g := e.Group(prefix + "/chat")
	g.POST("/stream", s.handleStream)
	g.POST("/stop", s.handleStop)
	g.GET("/agents", s.handleAgents)
	g.GET("/threads", s.handleListThreads)
	g.GET("/threads/:id", s.handleGetThread)
	g.PATCH("/threads/:id", s.handlePatchThread)
	g.DELETE("/threads/:id", s.handleSoftDeleteThread)
	g.POST("/threads/:id/restore", s.handleRestoreThread)
	g.DELETE("/threads/:id/permanent", s.handleHardDeleteThread)
	g.GET("/threads/:id/messages", s.handleListMessages)
	g.POST("/threads/:id/bookmark", s.handleBookmark)
}

func userID(c echo.Context) string {
	return c.Request().Header.Get("X-User-Id")
}

// writeError writes the non-stream error envelope.
func writeError(c echo.Context, err error) error {
	env := apierrors.EnvelopeFor(err)
	return c.JSON(env.StatusCode, env)
}

func (s *Service) handleStream(c echo.Context) error {
	var body chatStreamRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, apierrors.New(apierrors.Invalid, "", "malformed request body"))
	}

	messages := make([]coordinator.InputMessage, len(body.Messages))
	for i, m := range body.Messages {
		messages[i] = coordinator.InputMessage{ID: m.ID, Role: m.Role, Content: m.Content, Metadata: m.Metadata}
	}

	events, err := s.Coordinator.ProcessChat(c.Request().Context(), coordinator.Request{
		ThreadID:          body.ThreadID,
		UserID:            userID(c),
		AgentType:         body.AgentType,
		Messages:          messages,
		ConversationStyle: body.ConversationStyle,
		MaxTokens:         body.MaxTokens,
		Temperature:       body.Temperature,
		SystemPrompt:      body.SystemPrompt,
		Model:             body.Model,
	})
	if err != nil {
		return writeError(c, err)
	}

	sse, ok := newSSEWriter(c.Response())
	if !ok {
		return writeError(c, apierrors.New(apierrors.UpstreamFatal, "", "streaming not supported by this response writer"))
	}

	s.drain(c, sse, events)
	return nil
}

// drain forwards each agent event to the wire, interleaving a keep-alive
// comment line on heartbeatInterval idle (the SUPPLEMENTED FEATURES
// heartbeat), until the channel closes or the client disconnects.
func (s *Service) drain(c echo.Context, sse *sseWriter, events <-chan agent.Event) {
	ctx := c.Request().Context()
	ticker := newHeartbeatTicker()
	defer ticker.stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeEvent(string(ev.Type), payloadFor(ev)); err != nil {
				s.logger().Debug("sse write failed, client likely disconnected", "error", err)
				return
			}
			ticker.reset()

		case <-ticker.c:
			if err := sse.writeComment("ping"); err != nil {
				return
			}
			ticker.reset()

		case <-ctx.Done():
			// The Coordinator's own goroutine observes ctx cancellation
			// through the Registry handle chain and persists/finalises
			// independently of this handler returning.
			return
		}
	}
}

func (s *Service) handleStop(c echo.Context) error {
	var body stopRequest
	if err := c.Bind(&body); err != nil || body.ThreadID == "" {
		return writeError(c, apierrors.New(apierrors.Invalid, "", "threadId is required"))
	}
	s.Registry.Signal(body.ThreadID)
	return c.JSON(http.StatusOK, stopResponse{Success: true})
}

func (s *Service) handleAgents(c echo.Context) error {
	out := make([]agentDescriptor, len(s.Agents))
	for i, a := range s.Agents {
		out[i] = agentDescriptor{ID: a.ID, Name: a.Name, Description: a.Description}
	}
	return c.JSON(http.StatusOK, agentsResponse{Agents: out})
}

func (s *Service) handleListThreads(c echo.Context) error {
	opts := store.ListOptions{
		ContinuationToken: c.QueryParam("continuationToken"),
		IncludeDeleted:    c.QueryParam("includeDeleted") == "true",
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		opts.Limit = limit
	}

	page, err := s.Repo.List(c.Request().Context(), userID(c), opts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pageFrom(page))
}

func (s *Service) handleGetThread(c echo.Context) error {
	thread, err := s.Repo.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if thread == nil {
		return writeError(c, apierrors.New(apierrors.NotFound, "", "thread not found"))
	}
	return c.JSON(http.StatusOK, thread)
}

func (s *Service) handlePatchThread(c echo.Context) error {
	var body threadPatchRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, apierrors.New(apierrors.Invalid, "", "malformed request body"))
	}

	thread, _, err := s.Repo.Update(c.Request().Context(), userID(c), c.Param("id"), store.Mutation[*model.Thread]{
		IfMatch:   c.Request().Header.Get("If-Match"),
		RetryOnce: c.Request().Header.Get("If-Match") == "",
		Apply: func(t *model.Thread) *model.Thread {
			if body.Title != nil {
				t.Title = *body.Title
			}
			if body.IsBookmarked != nil {
				t.IsBookmarked = *body.IsBookmarked
			}
			if body.Metadata != nil {
				t.Metadata = body.Metadata
			}
			return t
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, mutationResponse{Success: true, Entity: thread, NewETag: thread.ETag})
}

func (s *Service) handleSoftDeleteThread(c echo.Context) error {
	if _, err := s.Repo.SoftDelete(c.Request().Context(), userID(c), c.Param("id"), c.Request().Header.Get("If-Match")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stopResponse{Success: true})
}

func (s *Service) handleRestoreThread(c echo.Context) error {
	if _, err := s.Repo.Restore(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stopResponse{Success: true})
}

func (s *Service) handleHardDeleteThread(c echo.Context) error {
	if err := s.Repo.HardDelete(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stopResponse{Success: true})
}

func (s *Service) handleListMessages(c echo.Context) error {
	opts := store.ListOptions{ContinuationToken: c.QueryParam("continuationToken")}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		opts.Limit = limit
	}

	page, err := s.Repo.ListMessages(c.Request().Context(), userID(c), c.Param("id"), opts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pageFrom(page))
}

func (s *Service) handleBookmark(c echo.Context) error {
	var isBookmarked bool
	_, _, err := s.Repo.Update(c.Request().Context(), userID(c), c.Param("id"), store.Mutation[*model.Thread]{
		RetryOnce: true,
		Apply: func(t *model.Thread) *model.Thread {
			t.IsBookmarked = !t.IsBookmarked
			isBookmarked = t.IsBookmarked
			return t
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, bookmarkResponse{Success: true, IsBookmarked: isBookmarked})
}
