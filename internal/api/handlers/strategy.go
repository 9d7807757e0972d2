package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio-backtest/internal/strategy"
)

// ListStrategies handles GET /api/v1/strategies
func ListStrategies(c *gin.Context) {
	strategies := strategy.Catalog()
	c.JSON(http.StatusOK, gin.H{"strategies": strategies, "count": len(strategies)})
}
