package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/chatd/pkg/models"
)

// createConversationHandler handles POST /api/v1/conversations.
func (s *Server) createConversationHandler(c *echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conv, err := s.conversationService.CreateConversation(c.Request().Context(), models.CreateConversationRequest{
		OwnerUserID: userIDFrom(c),
		Title:       req.Title,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// listConversationsHandler handles GET /api/v1/conversations. Pagination is
// page-based (page/page_size query params) and exposed via headers so the
// response body stays a plain array.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	result, err := s.conversationService.ListConversations(c.Request().Context(), models.ConversationFilters{
		OwnerUserID: userIDFrom(c),
		Query:       c.QueryParam("q"),
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		return mapServiceError(err)
	}

	setPaginationHeaders(c, result.TotalCount, result.Page, result.PageSize, result.TotalPages)
	return c.JSON(http.StatusOK, result.Conversations)
}

// getConversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	conv, err := s.conversationService.GetConversation(c.Request().Context(), c.Param("id"), userIDFrom(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// updateConversationTitleHandler handles PATCH /api/v1/conversations/:id.
func (s *Server) updateConversationTitleHandler(c *echo.Context) error {
	var req updateConversationTitleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conv, err := s.conversationService.UpdateTitle(c.Request().Context(), c.Param("id"), userIDFrom(c), req.Title)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:id.
// Soft-deletes; the cleanup service hard-purges it after its retention window.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	if err := s.conversationService.SoftDelete(c.Request().Context(), c.Param("id"), userIDFrom(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// setPaginationHeaders sets the conversation-list pagination header set
// (X-Total-Count/X-Page-Number/X-Page-Size/X-Total-Pages) plus an RFC-5988
// Link header pointing at the next page, when one exists.
func setPaginationHeaders(c *echo.Context, totalCount, page, pageSize, totalPages int) {
	h := c.Response().Header()
	h.Set("X-Total-Count", strconv.Itoa(totalCount))
	h.Set("X-Page-Number", strconv.Itoa(page))
	h.Set("X-Page-Size", strconv.Itoa(pageSize))
	h.Set("X-Total-Pages", strconv.Itoa(totalPages))

	if page < totalPages {
		nextURL := *c.Request().URL
		q := nextURL.Query()
		q.Set("page", strconv.Itoa(page+1))
		q.Set("page_size", strconv.Itoa(pageSize))
		nextURL.RawQuery = q.Encode()
		h.Set("Link", "<"+nextURL.String()+`>; rel="next"`)
	}
}
