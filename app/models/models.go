package models

// BanConfig is the single operator-maintained configuration record.
// BanGuilds never contains duplicates; the store enforces that on write.
type BanConfig struct {
	Revision        int64
	BanGuilds       []string
	BanRoleName     string
	SuccessRoleName string
	LogChannelID    string
	LogChannelID2   string
	ReturnURL       string
}

// GuildRef is one community the principal belongs to, as reported by the
// identity provider. IconURL is empty when the guild has no icon asset.
type GuildRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconURL"`
}

// Principal is the authenticated end user. Transient, never persisted.
type Principal struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Guilds   []GuildRef `json:"guilds"`
}

// Guest returns the principal used when no authenticated session exists.
func Guest() Principal {
	return Principal{Username: "Guest"}
}

// Classification is the verdict of a verification attempt.
type Classification int

const (
	Allowed Classification = iota
	Denied
)

func (c Classification) String() string {
	if c == Denied {
		return "Denied"
	}
	return "Allowed"
}

// Outcome is produced once per verification attempt and never stored.
type Outcome struct {
	Classification Classification
	// Matched holds the principal's guilds found on the ban list;
	// Remaining holds the rest, in provider order.
	Matched   []GuildRef
	Remaining []GuildRef
}

// DiscordUser is the wire shape of the provider's /users/@me response.
type DiscordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// DiscordGuild is the wire shape of one entry in /users/@me/guilds.
type DiscordGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// SiteverifyResponse is the wire shape of the hCaptcha verdict.
type SiteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}
