package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hootrhino/regsim"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type writeRequest struct {
	Value *int `json:"value"`
}

type patternRequest struct {
	Pattern string `json:"pattern"`
}

type resizeRequest struct {
	Size int `json:"size"`
}

type faultRequest struct {
	Mode string `json:"mode"`
}

type operationRequest struct {
	Operation string `json:"operation"`
}

// newRouter builds the inspect API. Register and fault routes exist for
// slave roles, /operations for master roles.
func newRouter(a *app) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "role": a.cfg.Role})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if a.slave != nil {
		registerSlaveRoutes(r, a.slave)
	}
	if a.sender != nil {
		r.POST("/operations", func(c *gin.Context) {
			var req operationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			op, err := regsim.ParseOperation(req.Operation)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			id, err := a.sender.Send(op)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"id": id, "operation": op.String()})
		})
	}
	return r
}

func registerSlaveRoutes(r *gin.Engine, s simulatedSlave) {
	r.GET("/registers", func(c *gin.Context) {
		snapshot := s.Snapshot()
		if c.Query("format") == "csv" {
			c.Header("Content-Type", "text/csv")
			c.Status(http.StatusOK)
			if err := regsim.WriteRegisterCSV(c.Writer, snapshot); err != nil {
				_ = c.Error(err)
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"size": len(snapshot), "values": snapshot})
	})

	r.DELETE("/registers", func(c *gin.Context) {
		s.Registers(func(m *regsim.RegisterMap) { m.Clear() })
		c.Status(http.StatusNoContent)
	})

	r.GET("/registers/:addr", func(c *gin.Context) {
		addr, ok := addrParam(c)
		if !ok {
			return
		}
		var value uint16
		var found bool
		s.Registers(func(m *regsim.RegisterMap) { value, found = m.Read(addr) })
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "register address out of range"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": addr, "value": value})
	})

	r.PUT("/registers/:addr", func(c *gin.Context) {
		addr, ok := addrParam(c)
		if !ok {
			return
		}
		var req writeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"value\": n}"})
			return
		}
		var written bool
		s.Registers(func(m *regsim.RegisterMap) { written = m.Write(addr, *req.Value) })
		if !written {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid register address or value"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": addr, "value": *req.Value})
	})

	r.POST("/registers/pattern", func(c *gin.Context) {
		var req patternRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pattern, err := regsim.ParsePattern(req.Pattern)
		if err != nil || pattern == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown pattern"})
			return
		}
		s.Registers(func(m *regsim.RegisterMap) { pattern(m) })
		c.Status(http.StatusNoContent)
	})

	r.POST("/registers/resize", func(c *gin.Context) {
		var req resizeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Size < 1 || req.Size > 0x10000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be 1-65536"})
			return
		}
		s.Registers(func(m *regsim.RegisterMap) { m.Resize(req.Size) })
		c.JSON(http.StatusOK, gin.H{"size": req.Size})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Stats())
	})
	r.DELETE("/stats", func(c *gin.Context) {
		s.ResetStats()
		c.Status(http.StatusNoContent)
	})

	r.GET("/fault", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": s.Fault().String()})
	})
	r.PUT("/fault", func(c *gin.Context) {
		var req faultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode, err := regsim.ParseFaultMode(req.Mode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.SetFault(mode)
		c.JSON(http.StatusOK, gin.H{"mode": mode.String()})
	})
}

func addrParam(c *gin.Context) (int, bool) {
	v, err := strconv.ParseUint(c.Param("addr"), 0, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid register address"})
		return 0, false
	}
	return int(v), true
}
