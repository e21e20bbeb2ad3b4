package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/errs"
	"github.com/nimlabs/memoria/orchestrator"
	"github.com/nimlabs/memoria/store"
)

type chatRequest struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	RoleID     string `json:"role_id"`
	Message    string `json:"message"`
	Username   string `json:"username"`
	ExtractNow bool   `json:"extract_now"`
}

type chatResponse struct {
	Response        string `json:"response"`
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	MemoryExtracted bool   `json:"memory_extracted"`
	MessageCount    int    `json:"message_count"`
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return errs.New(errs.KindConfigInvalid, "malformed request body").WriteFiber(c)
	}

	reply, meta, err := s.orchestrator.Chat(c.Context(), req.UserID, req.SessionID, req.RoleID, req.Message, orchestrator.Options{
		ExtractNow: req.ExtractNow,
		Username:   req.Username,
	})
	if err != nil {
		return errs.HandleFiber(c, err)
	}

	return c.JSON(chatResponse{
		Response:        reply,
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		MemoryExtracted: meta.MemoryExtracted,
		MessageCount:    meta.MessageCount,
	})
}

// openAIChoice and openAIMessage give handleChatCompletions an
// OpenAI-compatible response shape for a single turn; the semantics
// underneath are identical to handleChat.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChoice struct {
	Index   int           `json:"index"`
	Message openAIMessage `json:"message"`
}

type chatCompletionsResponse struct {
	Object  string         `json:"object"`
	Choices []openAIChoice `json:"choices"`
}

type chatCompletionsRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	RoleID    string `json:"role_id"`
	Messages  []openAIMessage `json:"messages"`
}

func (s *Server) handleChatCompletions(c *fiber.Ctx) error {
	var req chatCompletionsRequest
	if err := c.BodyParser(&req); err != nil {
		return errs.New(errs.KindConfigInvalid, "malformed request body").WriteFiber(c)
	}

	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			userText = req.Messages[i].Content
			break
		}
	}

	reply, _, err := s.orchestrator.Chat(c.Context(), req.UserID, req.SessionID, req.RoleID, userText, orchestrator.Options{})
	if err != nil {
		return errs.HandleFiber(c, err)
	}

	return c.JSON(chatCompletionsResponse{
		Object: "chat.completion",
		Choices: []openAIChoice{
			{Index: 0, Message: openAIMessage{Role: "assistant", Content: reply}},
		},
	})
}

func (s *Server) handleListMemories(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	sessionID := c.Query("session_id")
	roleID := c.Query("role_id")
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	minImportance, _ := strconv.Atoi(c.Query("min_importance", "0"))
	speaker := c.Query("speaker")

	if userID == "" || sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errs.New(errs.KindConfigInvalid, "user_id and session_id are required"))
	}
	if roleID == "" {
		roleID = "default"
	}

	scope := core.Scope{UserID: userID, SessionID: sessionID, RoleID: roleID}
	filters := store.Filters{MinImportance: minImportance, Speaker: core.Speaker(speaker)}

	fragments, err := s.store.List(c.Context(), scope, limit, filters)
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	orchestrator.SortFragmentsByScore(fragments)

	return c.JSON(fiber.Map{"memories": fragments, "count": len(fragments)})
}

type createUserRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleCreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	_ = c.BodyParser(&req)

	u, err := s.identity.CreateUser(req.Username)
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (s *Server) handleGetUser(c *fiber.Ctx) error {
	u, err := s.identity.GetUser(c.Params("id"))
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	return c.JSON(u)
}

func (s *Server) handleListUserSessions(c *fiber.Ctx) error {
	sessions, err := s.identity.ListSessionsForUser(c.Params("id"))
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errs.New(errs.KindConfigInvalid, "malformed request body").WriteFiber(c)
	}
	sess, err := s.identity.CreateSession(req.UserID, req.RoleID)
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.identity.GetSession(c.Params("id"))
	if err != nil {
		return errs.HandleFiber(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"embedding":   s.embedder.Variant(),
	})
}
