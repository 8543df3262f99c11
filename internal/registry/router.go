package registry

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router mounts the registry's three HTTP endpoints on a gin engine,
// following the teacher's api.Handler.Register shape.
func Router(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/register", func(c *gin.Context) {
		var body struct {
			Server  string `json:"server" binding:"required"`
			Address string `json:"address"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		e := s.Register(body.Server, body.Address)
		c.JSON(http.StatusOK, gin.H{"rank": e.Rank})
	})

	r.GET("/list", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"servers": s.List()})
	})

	r.POST("/heartbeat/:server", func(c *gin.Context) {
		s.Heartbeat(c.Param("server"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
