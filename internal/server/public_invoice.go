package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func publicToken(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return "", ErrTokenRequired
	}
	return token, nil
}

func (s *Server) ViewPublicInvoice(c *gin.Context) {
	token, err := publicToken(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.publicInvoiceSvc.View(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) PayPublicInvoice(c *gin.Context) {
	token, err := publicToken(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.publicInvoiceSvc.Pay(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) DownloadPublicInvoicePDF(c *gin.Context) {
	token, err := publicToken(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.publicInvoiceSvc.PDF(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}
