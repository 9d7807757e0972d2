package handlers

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portfolio-backtest/internal/api/models"
	"portfolio-backtest/internal/data"
	"portfolio-backtest/internal/timeutil"
)

// DatasetHandler lists the rate files runs can reference.
type DatasetHandler struct {
	log     *zap.Logger
	dataDir string
	cache   *data.RatesCache
}

func NewDatasetHandler(log *zap.Logger, dataDir string) *DatasetHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DatasetHandler{log: log, dataDir: dataDir, cache: data.GetCache()}
}

// ListDatasets handles GET /api/v1/datasets. Files that do not parse as bars
// (tick and quote files) are left out.
func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	datasets := []models.DatasetInfo{}
	if h.dataDir == "" {
		c.JSON(http.StatusOK, gin.H{"datasets": datasets, "count": 0})
		return
	}

	err := filepath.WalkDir(h.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".csv" && ext != ".json" {
			return nil
		}
		bars, err := h.cache.Load(path)
		if err != nil {
			h.log.Debug("skipping non-rates file", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, _ := filepath.Rel(h.dataDir, path)
		datasets = append(datasets, models.DatasetInfo{
			Path:  filepath.ToSlash(rel),
			Bars:  len(bars),
			First: timeutil.ToTime(bars[0].Time),
			Last:  timeutil.ToTime(bars[len(bars)-1].Time),
		})
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "DATASETS_LOAD_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": datasets, "count": len(datasets)})
}
