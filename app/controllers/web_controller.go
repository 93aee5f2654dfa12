package controllers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"

	"github.com/imMORX/Gatekeeper/app/captcha"
	"github.com/imMORX/Gatekeeper/app/database"
	"github.com/imMORX/Gatekeeper/app/identity"
	"github.com/imMORX/Gatekeeper/app/models"
	"github.com/imMORX/Gatekeeper/app/policy"
)

// An in-flight verification must finish within this window; a process
// restart invalidates all of them.
const sessionTimeout = 10 * time.Minute

const defaultReturnURL = "https://discord.com/channels/@me"

var (
	siteKey  string
	sessions *session.Store
	exchange *identity.Exchange
	verifier *captcha.Verifier
)

func SetupWeb() {
	var hasSiteKey bool
	if siteKey, hasSiteKey = os.LookupEnv("HCAPTCHA_SITEKEY"); !hasSiteKey {
		slog.Error("No 'HCAPTCHA_SITEKEY' set in config")
		os.Exit(1)
	}

	captchaSecret, hasSecret := os.LookupEnv("HCAPTCHA_SECRET")
	if !hasSecret {
		slog.Error("No 'HCAPTCHA_SECRET' set in config")
		os.Exit(1)
	}

	clientID, hasClientID := os.LookupEnv("CLIENT_ID")
	clientSecret, hasClientSecret := os.LookupEnv("CLIENT_SECRET")
	redirectURL, hasRedirect := os.LookupEnv("REDIRECT_URL")
	if !hasClientID || !hasClientSecret || !hasRedirect {
		slog.Error("OAuth2 config incomplete, need 'CLIENT_ID', 'CLIENT_SECRET' and 'REDIRECT_URL'")
		os.Exit(1)
	}

	sessions = session.New(session.Config{
		Expiration: sessionTimeout,
	})
	exchange = identity.NewExchange(clientID, clientSecret, redirectURL)
	verifier = captcha.NewVerifier(captchaSecret)
}

// RegisterRoutes wires the HTTP surface onto the fiber app.
func RegisterRoutes(app *fiber.App) {
	app.Get("/", HandleIndex)
	app.Get("/auth/discord", HandleAuthStart)
	app.Get("/auth", HandleAuthStart)
	app.Get("/auth/callback", HandleAuthCallback)
	app.Get("/auth/error", HandleAuthError)
	app.Get("/hcaptcha", HandleCaptchaGET)
	app.Post("/verify", HandleVerifyPOST)
}

func HandleIndex(ctx *fiber.Ctx) error {
	return ctx.SendString("Gatekeeper web server is running")
}

func HandleAuthStart(ctx *fiber.Ctx) error {
	sess, err := sessions.Get(ctx)
	if err != nil {
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}

	state := uuid.NewString()
	sess.Set("oauth_state", state)
	if err := sess.Save(); err != nil {
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}

	return ctx.Redirect(exchange.AuthCodeURL(state), fiber.StatusFound)
}

func HandleAuthCallback(ctx *fiber.Ctx) error {
	sess, err := sessions.Get(ctx)
	if err != nil {
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}

	code := ctx.Query("code")
	state := ctx.Query("state")
	wantState, _ := sess.Get("oauth_state").(string)
	if code == "" || wantState == "" || state != wantState {
		return ctx.Redirect("/auth/error", fiber.StatusFound)
	}

	principal, err := exchange.Authenticate(ctx.Context(), code)
	if err != nil {
		slog.Warn("OAuth2 exchange failed", slog.Any("err", err))
		return ctx.Redirect("/auth/error", fiber.StatusFound)
	}

	raw, err := json.Marshal(principal)
	if err != nil {
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}
	sess.Delete("oauth_state")
	sess.Set("principal", string(raw))
	if err := sess.Save(); err != nil {
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}

	slog.Info("OAuth2 login", slog.String("user", principal.Username))
	return ctx.Redirect("/hcaptcha", fiber.StatusFound)
}

func HandleCaptchaGET(ctx *fiber.Ctx) error {
	principal, ok := principalFromSession(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).SendString("Authentication required")
	}

	cfg := database.LoadConfig()

	serverName := "this server"
	if guildID := guildIDFromReturnURL(cfg.ReturnURL); guildID != "" {
		for _, g := range principal.Guilds {
			if g.ID == guildID {
				serverName = g.Name
				break
			}
		}
	}

	return ctx.Render("hcaptcha", fiber.Map{
		"SiteKey":    siteKey,
		"ServerName": serverName,
		"Username":   principal.Username,
	})
}

func HandleVerifyPOST(ctx *fiber.Ctx) error {
	token := ctx.FormValue("h-captcha-response")
	if token == "" {
		return ctx.Status(fiber.StatusBadRequest).SendString("hCaptcha token missing")
	}

	ok, err := verifier.Verify(ctx.Context(), token)
	if err != nil {
		slog.Error("Captcha verification transport failure", slog.Any("err", err))
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}
	if !ok {
		return ctx.Status(fiber.StatusBadRequest).SendString("hCaptcha verification failed")
	}

	principal, authed := principalFromSession(ctx)
	if !authed {
		principal = models.Guest()
	}

	cfg := database.LoadConfig()
	outcome := policy.Classify(principal, cfg)
	summary := policy.Summary(principal, outcome)

	Notify(cfg.LogChannelID, summary)
	if cfg.LogChannelID2 != "" && len(principal.Guilds) > 0 {
		NotifyEmbed(cfg.LogChannelID2, partitionEmbed(principal, outcome, cfg))
	}

	returnURL := cfg.ReturnURL
	if returnURL == "" {
		returnURL = defaultReturnURL
	}

	slog.Info("Verification finished",
		slog.String("user", principal.Username),
		slog.String("result", outcome.Classification.String()))

	return ctx.Render("success", fiber.Map{
		"Username":  principal.Username,
		"Denied":    outcome.Classification == models.Denied,
		"ReturnURL": returnURL,
	})
}

func HandleAuthError(ctx *fiber.Ctx) error {
	return ctx.Render("error", fiber.Map{
		"Message": "Discord authentication failed.",
	})
}

func principalFromSession(ctx *fiber.Ctx) (models.Principal, bool) {
	sess, err := sessions.Get(ctx)
	if err != nil {
		return models.Principal{}, false
	}

	raw, ok := sess.Get("principal").(string)
	if !ok || raw == "" {
		return models.Principal{}, false
	}

	var principal models.Principal
	if err := json.Unmarshal([]byte(raw), &principal); err != nil {
		slog.Warn("Corrupt principal in session", slog.Any("err", err))
		return models.Principal{}, false
	}
	return principal, true
}

// guildIDFromReturnURL extracts the guild segment from a Discord channel
// URL (https://discord.com/channels/<guild>/<channel>), or returns empty.
func guildIDFromReturnURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "channels" {
		return ""
	}
	return parts[1]
}

// partitionEmbed renders the banned/allowed guild partition for the
// secondary log channel.
func partitionEmbed(principal models.Principal, outcome models.Outcome, cfg models.BanConfig) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Server list for %s", principal.Username),
		Color:     11953908,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if len(outcome.Matched) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  cfg.BanRoleName,
			Value: guildList(outcome.Matched),
		})
	}
	if len(outcome.Remaining) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  cfg.SuccessRoleName,
			Value: guildList(outcome.Remaining),
		})
	}
	return embed
}

func guildList(guilds []models.GuildRef) string {
	lines := make([]string, 0, len(guilds))
	for _, g := range guilds {
		if g.IconURL != "" {
			lines = append(lines, fmt.Sprintf("[%s](%s)", g.Name, g.IconURL))
		} else {
			lines = append(lines, g.Name)
		}
	}
	return strings.Join(lines, "\n")
}
