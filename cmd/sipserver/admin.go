package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourusername/sip2-server/pkg/auth"
	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/sip2"
)

// authMiddleware admits requests carrying either the static API key or a
// valid bearer token from /api/auth/login.
func authMiddleware() gin.HandlerFunc {
	requiredKey := os.Getenv("SIP_ADMIN_API_KEY")

	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("apikey")
		}
		if requiredKey != "" && apiKey == requiredKey {
			c.Set("username", "api-key-user")
			c.Set("role", "admin")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ParseToken(tokenString)
			if err == nil {
				c.Set("username", claims.Username)
				c.Set("role", claims.Role)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized: Invalid API Key or Token",
		})
	}
}

// LoginRequest credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse auth token
type LoginResponse struct {
	Status string            `json:"status"`
	Token  string            `json:"token"`
	User   map[string]string `json:"user"`
}

func setupRouter(cfg *config.Config, srv *sip2.Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("sip-admin"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP", "time": time.Now()})
	})

	r.POST("/api/auth/login", func(c *gin.Context) {
		var creds LoginRequest
		if err := c.BindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		var user *config.AdminUser
		for i := range cfg.Admin.Users {
			if cfg.Admin.Users[i].Username == creds.Username {
				user = &cfg.Admin.Users[i]
				break
			}
		}
		if user == nil || !auth.CheckPassword(creds.Password, user.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := auth.GenerateToken(user.Username, user.Role)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(200, LoginResponse{
			Status: "success",
			Token:  token,
			User:   map[string]string{"username": user.Username, "role": user.Role},
		})
	})

	api := r.Group("/api", authMiddleware())

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "success", "data": srv.Stats()})
	})

	// Accounts are listed without their passwords.
	api.GET("/accounts", func(c *gin.Context) {
		type accountView struct {
			UID         string `json:"uid"`
			Institution string `json:"institution"`
			PrintWidth  int    `json:"print_width"`
		}
		var out []accountView
		for uid, acct := range cfg.Accounts {
			out = append(out, accountView{
				UID:         uid,
				Institution: acct.Institution,
				PrintWidth:  acct.PrintWidth,
			})
		}
		c.JSON(200, gin.H{"status": "success", "data": out})
	})

	api.GET("/config", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "success", "data": gin.H{
			"listen":          cfg.Listen,
			"institution":     cfg.Institution,
			"backend":         cfg.Backend,
			"max_connections": cfg.MaxConnections,
			"timeout":         cfg.Timeout,
			"retries":         cfg.Retries,
			"renewal":         cfg.Renewal,
		}})
	})

	return r
}

// runAdminAPI serves the admin HTTP API until the context is canceled.
func runAdminAPI(ctx context.Context, cfg *config.Config, srv *sip2.Server) error {
	httpSrv := &http.Server{
		Addr:    cfg.Admin.Addr,
		Handler: setupRouter(cfg, srv),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()
	err := httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
