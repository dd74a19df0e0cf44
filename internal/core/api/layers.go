package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solatis/policydesk/internal/layers"
)

func (s *Service) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": s.layers.List()})
}

func (s *Service) getLayers(c *gin.Context) {
	a, err := s.layers.Get(c.Param("assetId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Service) putLayers(c *gin.Context) {
	var body layers.AssetLayers
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	for _, l := range body.Layers {
		if strings.TrimSpace(l.ID) == "" {
			badRequest(c, "every layer needs an id")
			return
		}
	}
	c.JSON(http.StatusOK, s.layers.Set(c.Param("assetId"), body))
}

func (s *Service) deleteLayers(c *gin.Context) {
	s.layers.Delete(c.Param("assetId"))
	c.Status(http.StatusNoContent)
}

func (s *Service) addOverlay(c *gin.Context) {
	var o layers.Overlay
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(o.ID) == "" {
		badRequest(c, "overlay id is required")
		return
	}
	c.JSON(http.StatusOK, s.layers.AddOverlay(c.Param("assetId"), o))
}

func (s *Service) removeOverlay(c *gin.Context) {
	if err := s.layers.RemoveOverlay(c.Param("assetId"), c.Param("overlayId")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
