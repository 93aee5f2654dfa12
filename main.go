package main

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/gofiber/template/html"
	"github.com/imMORX/Gatekeeper/app/controllers"
	"github.com/imMORX/Gatekeeper/app/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on the environment")
	}

	if _, hasToken := os.LookupEnv("TOKEN"); !hasToken {
		slog.Error("No 'TOKEN' set in config")
		os.Exit(1)
	}

	color.Cyan("[i] Setting up..")

	database.Connect()
	defer database.Close()

	controllers.SetupDiscord()
	controllers.SetupWeb()

	engine := html.New("./public/views", ".html")
	engine.Delims("{{", "}}")

	app := fiber.New(fiber.Config{
		Views:              engine,
		AppName:            "Gatekeeper v1.0",
		EnableIPValidation: true,
	})

	// Make sure you do this for any file/assets you include in your html otherwise they wont load.
	app.Static("/", "./public/css")

	controllers.RegisterRoutes(app)

	port := os.Getenv("PORT")
	if port == "" {
		port = ":3000"
	} else if port[0] != ':' {
		port = ":" + port
	}

	color.Cyan("[i] Starting WebServer on " + port)
	if err := app.Listen(port); err != nil {
		slog.Error("Web server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
