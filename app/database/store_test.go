package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imMORX/Gatekeeper/app/models"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(":memory:"))
	t.Cleanup(Close)
}

func TestLoadConfigDefaults(t *testing.T) {
	setupTestDB(t)

	cfg := LoadConfig()
	assert.Empty(t, cfg.BanGuilds)
	assert.Equal(t, "Banned", cfg.BanRoleName)
	assert.Equal(t, "Verified", cfg.SuccessRoleName)
	assert.Empty(t, cfg.LogChannelID)
	assert.Empty(t, cfg.ReturnURL)
	assert.Zero(t, cfg.Revision)
}

func TestUpdateConfigRoundTrip(t *testing.T) {
	setupTestDB(t)

	saved, err := UpdateConfig(func(c *models.BanConfig) {
		c.BanGuilds = []string{"G1", "G2"}
		c.BanRoleName = "Outlaw"
		c.SuccessRoleName = "Citizen"
		c.LogChannelID = "111"
		c.LogChannelID2 = "222"
		c.ReturnURL = "https://discord.com/channels/1/2"
	})
	require.NoError(t, err)

	loaded := LoadConfig()
	assert.Equal(t, saved, loaded)

	// Saving what was loaded changes nothing observable but the revision.
	resaved, err := UpdateConfig(func(c *models.BanConfig) {})
	require.NoError(t, err)
	assert.Equal(t, loaded.Revision+1, resaved.Revision)

	resaved.Revision = loaded.Revision
	assert.Equal(t, loaded, resaved)
}

func TestUpdateConfigDeduplicatesBanList(t *testing.T) {
	setupTestDB(t)

	for n := 0; n < 2; n++ {
		_, err := UpdateConfig(func(c *models.BanConfig) {
			c.BanGuilds = append(c.BanGuilds, "G9")
		})
		require.NoError(t, err)
	}

	cfg := LoadConfig()
	assert.Equal(t, []string{"G9"}, cfg.BanGuilds)
}

func TestUpdateConfigBumpsRevision(t *testing.T) {
	setupTestDB(t)

	first, err := UpdateConfig(func(c *models.BanConfig) { c.BanRoleName = "a" })
	require.NoError(t, err)
	second, err := UpdateConfig(func(c *models.BanConfig) { c.BanRoleName = "b" })
	require.NoError(t, err)

	assert.Equal(t, first.Revision+1, second.Revision)
	assert.Equal(t, "b", LoadConfig().BanRoleName)
}

func TestLoadConfigMalformedBanList(t *testing.T) {
	setupTestDB(t)

	_, err := UpdateConfig(func(c *models.BanConfig) { c.LogChannelID = "111" })
	require.NoError(t, err)

	_, err = conn.Exec(`UPDATE ban_config SET ban_guilds = 'not json' WHERE id = 1`)
	require.NoError(t, err)

	cfg := LoadConfig()
	assert.Empty(t, cfg.BanGuilds)
	assert.Equal(t, "111", cfg.LogChannelID)
}
