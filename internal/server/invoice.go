package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
)

type lineItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createInvoiceRequest struct {
	ClientID      string            `json:"client_id"`
	ProjectID     string            `json:"project_id"`
	ClientEmail   string            `json:"client_email"`
	LineItems     []lineItemRequest `json:"line_items"`
	IssueDate     string            `json:"issue_date"`
	DueDate       string            `json:"due_date"`
	PaymentTerms  string            `json:"payment_terms"`
	TaxRate       *decimal.Decimal  `json:"tax_rate"`
	Notes         string            `json:"notes"`
	InternalNotes string            `json:"internal_notes"`
}

type replaceLineItemsRequest struct {
	LineItems []lineItemRequest `json:"line_items"`
}

type recordPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
	PaymentDate     string          `json:"payment_date"`
}

type voidInvoiceRequest struct {
	Reason string `json:"reason"`
}

type listInvoicesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	issueDate, err := parseOptionalDate(req.IssueDate, "issue_date")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate, "due_date")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	resp, err := s.invoiceSvc.Create(c.Request.Context(), businessID, invoicedomain.CreateInvoiceRequest{
		ClientID:      strings.TrimSpace(req.ClientID),
		ProjectID:     strings.TrimSpace(req.ProjectID),
		ClientEmail:   strings.TrimSpace(req.ClientEmail),
		LineItems:     toLineItemInputs(req.LineItems),
		IssueDate:     issueDate,
		DueDate:       dueDate,
		PaymentTerms:  strings.TrimSpace(req.PaymentTerms),
		TaxRate:       req.TaxRate,
		Notes:         req.Notes,
		InternalNotes: req.InternalNotes,
	}, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest.Wrap(err))
		return
	}

	businessID, _ := requestScope(c)
	resp, err := s.invoiceSvc.List(c.Request.Context(), businessID, invoicedomain.ListInvoiceRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status: strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, _ := requestScope(c)
	item, err := s.invoiceSvc.Get(c.Request.Context(), businessID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ReplaceLineItems(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req replaceLineItemsRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	item, err := s.invoiceSvc.ReplaceLineItems(c.Request.Context(), businessID, id, toLineItemInputs(req.LineItems), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) SendInvoice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	item, err := s.invoiceSvc.Send(c.Request.Context(), businessID, id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RecordPayment(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req recordPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	paymentDate, err := parseOptionalDate(req.PaymentDate, "payment_date")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	resp, err := s.invoiceSvc.RecordPayment(c.Request.Context(), businessID, id, invoicedomain.RecordPaymentRequest{
		Amount:          req.Amount,
		Method:          strings.TrimSpace(req.Method),
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Notes:           req.Notes,
		PaymentDate:     paymentDate,
	}, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, _ := requestScope(c)
	payments, err := s.invoiceSvc.ListPayments(c.Request.Context(), businessID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req voidInvoiceRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	businessID, actor := requestScope(c)
	item, err := s.invoiceSvc.Void(c.Request.Context(), businessID, id, strings.TrimSpace(req.Reason), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func toLineItemInputs(items []lineItemRequest) []invoicedomain.LineItemInput {
	out := make([]invoicedomain.LineItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, invoicedomain.LineItemInput{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return out
}
