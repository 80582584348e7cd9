package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insightchat/internal/repository"
	"insightchat/internal/transport/http/response"
)

// DatasetHandler serves registered upload blobs to the analysis engine. Blob
// keys are unguessable, so the route carries no auth.
type DatasetHandler struct {
	datasetRepo *repository.DatasetRepository
}

func NewDatasetHandler(datasetRepo *repository.DatasetRepository) *DatasetHandler {
	return &DatasetHandler{datasetRepo: datasetRepo}
}

func (h *DatasetHandler) Content(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing dataset key")
		return
	}

	dataset, err := h.datasetRepo.GetByBlobKey(key)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load dataset failed")
		return
	}
	if dataset == nil || len(dataset.Content) == 0 {
		response.Error(c, http.StatusNotFound, response.CodeDatasetNotFound, "dataset not found")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+dataset.Name+`"`)
	c.Data(http.StatusOK, "text/csv", dataset.Content)
}
