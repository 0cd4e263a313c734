package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/cesarh1094/chotion/config/database"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/pkg/logger"
	"github.com/cesarh1094/chotion/router"
	"github.com/cesarh1094/chotion/socket"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	repo := repository.New(db)

	hub := socket.NewHub(repo)
	go hub.Run()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("Collaboration backend listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(repo, hub)); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
