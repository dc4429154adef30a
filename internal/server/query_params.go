package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

func pathID(c *gin.Context) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidID
	}
	return parsed, nil
}

// bindJSON decodes an optional JSON body; an empty body leaves req untouched.
func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return ErrInvalidRequest.Wrap(err)
	}
	return nil
}

func parseOptionalDate(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	e := *ErrInvalidDate
	e.Field = field
	return nil, &e
}
