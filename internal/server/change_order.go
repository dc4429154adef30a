package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	changeorderdomain "github.com/smallbiznis/seatledger/internal/changeorder/domain"
)

type createChangeOrderRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

func (s *Server) CreateChangeOrder(c *gin.Context) {
	invoiceID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createChangeOrderRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	co, err := s.changeOrderSvc.Create(c.Request.Context(), businessID, invoiceID, changeorderdomain.CreateRequest{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
	}, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": co})
}

func (s *Server) ListChangeOrders(c *gin.Context) {
	invoiceID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, _ := requestScope(c)
	items, err := s.changeOrderSvc.List(c.Request.Context(), businessID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ApproveChangeOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	result, err := s.changeOrderSvc.Approve(c.Request.Context(), businessID, id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RejectChangeOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	co, err := s.changeOrderSvc.Reject(c.Request.Context(), businessID, id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": co})
}
