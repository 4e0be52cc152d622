// Package api is the operations HTTP surface: health, metrics, inventory
// reports, ticket redemption and publisher administration.
package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boxoffice/internal/inventory"
	"boxoffice/internal/middleware"
	"boxoffice/internal/publisher"
	"boxoffice/internal/repository"
	"boxoffice/internal/service"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

type Deps struct {
	Services   *service.Services
	Inventory  *inventory.Accountant
	Publisher  *publisher.Publisher
	Publishers repository.PublisherStore
	Checks     map[string]Checker

	RequestTimeout      time.Duration
	CartExpirationBatch int
}

type Server struct {
	router *gin.Engine
	deps   Deps
}

// NewServer builds the router. Call gin.SetMode before it.
func NewServer(deps Deps) *Server {
	if deps.CartExpirationBatch <= 0 {
		deps.CartExpirationBatch = 200
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())

	s := &Server{router: router, deps: deps}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops := s.router.Group("/ops")
	ops.Use(middleware.Timeout(s.deps.RequestTimeout))
	{
		ops.GET("/ticket-types/:id/inventory", s.inventoryReport)
		ops.POST("/ticket-instances/:id/redeem", s.redeemTicket)
		ops.POST("/carts/expire", s.expireCarts)

		publishers := ops.Group("/publishers")
		{
			publishers.GET("", s.listPublishers)
			publishers.POST("", s.createPublisher)
			publishers.POST("/run", s.runPublishers)
		}
	}
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := gin.H{}
	for _, name := range names {
		if err := s.deps.Checks[name](c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "boxoffice",
		"components": components,
	})
}
