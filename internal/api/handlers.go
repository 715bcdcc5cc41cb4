package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/refset/supportqueue/internal/queue"
)

// Request and response bodies. The client package shares them.

type NameRequest struct {
	Name string `json:"name"`
}

type TeamRequest struct {
	Name      string `json:"name"`
	Allowance int    `json:"allowance"`
}

type AllowanceRequest struct {
	Initial   int `json:"initial"`
	Remaining int `json:"remaining"`
}

type ParticipantRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

type TicketRequest struct {
	TeamID        string `json:"team_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Topic         string `json:"topic"`
}

type TopicRequest struct {
	Topic string `json:"topic"`
}

type TicketIDRequest struct {
	TicketID string `json:"ticket_id"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type ToggleResponse struct {
	IsOpen bool `json:"is_open"`
}

type CallNextResponse struct {
	TicketID string `json:"ticket_id"`
}

func (s *Server) handleBoard(c *gin.Context) {
	board, err := s.engine.Board(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (s *Server) handleAddTeam(c *gin.Context) {
	var req TeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := s.engine.AddTeam(c.Request.Context(), req.Name, req.Allowance)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleGetTeam(c *gin.Context) {
	team, err := s.engine.Team(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) handleRenameTeam(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.RenameTeam(c.Request.Context(), c.Param("id"), req.Name))
}

func (s *Server) handleSetAllowance(c *gin.Context) {
	var req AllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.SetAllowance(c.Request.Context(), c.Param("id"), req.Initial, req.Remaining))
}

func (s *Server) handleDeleteTeam(c *gin.Context) {
	s.noContent(c, s.engine.DeleteTeam(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleAddParticipant(c *gin.Context) {
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.AddParticipant(c.Request.Context(), req.ID, req.Name, req.TeamID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: req.ID})
}

func (s *Server) handleDeleteParticipant(c *gin.Context) {
	s.noContent(c, s.engine.DeleteParticipant(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleCreateTicket(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := s.engine.CreateTicket(c.Request.Context(), req.TeamID, req.ParticipantID, req.Topic)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleEditTopic(c *gin.Context) {
	var req TopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.EditTopic(c.Request.Context(), c.Param("id"), req.Topic))
}

func (s *Server) handleDeleteTicket(c *gin.Context) {
	del, err := s.engine.DeleteTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, del)
}

func (s *Server) handleRelocate(c *gin.Context) {
	var target queue.Target
	if err := c.ShouldBindJSON(&target); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.RelocateTicket(c.Request.Context(), c.Param("id"), target))
}

func (s *Server) handleAddTerminal(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := s.engine.AddTerminal(c.Request.Context(), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleRenameTerminal(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.RenameTerminal(c.Request.Context(), c.Param("id"), req.Name))
}

func (s *Server) handleDeleteTerminal(c *gin.Context) {
	s.noContent(c, s.engine.DeleteTerminal(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleToggle(c *gin.Context) {
	open, err := s.engine.ToggleOpen(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{IsOpen: open})
}

func (s *Server) handleCallNext(c *gin.Context) {
	id, err := s.engine.CallNext(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CallNextResponse{TicketID: id})
}

func (s *Server) handleStart(c *gin.Context) {
	var req TicketIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.StartSupport(c.Request.Context(), c.Param("id"), req.TicketID))
}

func (s *Server) handleEnd(c *gin.Context) {
	var req TicketIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.noContent(c, s.engine.EndSupport(c.Request.Context(), c.Param("id"), req.TicketID))
}

func (s *Server) noContent(c *gin.Context, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
