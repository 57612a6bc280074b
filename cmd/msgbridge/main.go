package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coralbridge/msgbridge/internal/account"
	"github.com/coralbridge/msgbridge/internal/config"
	"github.com/coralbridge/msgbridge/internal/dispatch"
	"github.com/coralbridge/msgbridge/internal/httpapi"
	"github.com/coralbridge/msgbridge/internal/ratelimit"
	"github.com/coralbridge/msgbridge/internal/upstream"
	"github.com/coralbridge/msgbridge/internal/usage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	accounts := account.NewPool(cfg.AccountsSnapshot())
	limiter := ratelimit.NewRegistry()
	recorder := usage.NewLogRecorder(logrus.StandardLogger())
	upstreamClient := upstream.NewClient(time.Duration(cfg.RequestTimeoutSeconds) * time.Second)

	pipeline := dispatch.NewPipeline(accounts, limiter, recorder, upstreamClient)

	gin.SetMode(gin.ReleaseMode)
	engine := httpapi.NewEngine(cfg, pipeline)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSeconds+30) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("failed to start server: %v", err)
		}
	}()

	logrus.Infof("msgbridge listening on :%d", cfg.ServerPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("server forced to shutdown: %v", err)
	}

	logrus.Info("server stopped")
}
