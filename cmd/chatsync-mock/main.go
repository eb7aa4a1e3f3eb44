package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/mockserver"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	secret := pflag.String("secret", "chatsync-dev-secret", "HMAC secret for issued tokens")
	users := pflag.StringArray("user", nil, "pre-register a user as phone[:name] (repeatable)")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Parse()

	logger, err := zap.NewProduction()
	if *debug {
		logger, err = zap.NewDevelopment()
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	backend := mockserver.New(*secret, logger)
	for _, u := range *users {
		phone, name, _ := strings.Cut(u, ":")
		user := backend.AddUser(phone, name)
		token, err := backend.Mint(user, mockserver.DefaultTokenTTL)
		if err != nil {
			logger.Fatal("mint token", zap.Error(err))
		}
		fmt.Printf("%s\t%s\n", phone, token)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("mock backend listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
