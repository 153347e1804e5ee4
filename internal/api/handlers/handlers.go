// Package handlers contains the Echo HTTP handlers for the Remindly API.
package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// queryInt reads an integer query parameter with a fallback.
func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}
