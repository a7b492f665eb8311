package builtin

import (
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/capability/discord"
	"github.com/flowhook/flowhook-api/internal/capability/mail"
	"github.com/flowhook/flowhook-api/internal/capability/news"
	"github.com/flowhook/flowhook-api/internal/capability/spotify"
	"github.com/flowhook/flowhook-api/internal/capability/timer"
	"github.com/flowhook/flowhook-api/internal/capability/twitch"
	"github.com/flowhook/flowhook-api/internal/config"
)

// BuildRegistry assembles the frozen registry of built-in capabilities.
// A provider that is not configured still registers, so automations referring
// to it fail at run time with a clear error rather than vanish from lookups.
func BuildRegistry(cfg *config.Config, logger zerolog.Logger) *capability.Registry {
	reg := capability.NewRegistry(logger)

	reg.RegisterTrigger(twitch.NewStreamOnline(cfg.Providers.Twitch.ClientID))
	reg.RegisterTrigger(spotify.NewTrackChanged())
	reg.RegisterTrigger(timer.NewAt())
	reg.RegisterTrigger(news.NewTopArticle(cfg.Providers.NewsAPIKey))

	reg.RegisterReaction(spotify.NewPlayTrack())
	reg.RegisterReaction(discord.NewSendMessage(cfg.Providers.DiscordBotToken))
	reg.RegisterReaction(twitch.NewSendChat(cfg.Providers.Twitch.ClientID, cfg.Providers.TwitchBotToken))

	var mailer mail.Mailer
	if cfg.Email.SMTPHost != "" {
		m, err := mail.NewSMTPMailer(cfg.Email)
		if err != nil {
			logger.Warn().Err(err).Msg("smtp misconfigured, mail.send_email will fail at run time")
		} else {
			mailer = m
		}
	}
	reg.RegisterReaction(mail.NewSendEmail(mailer))

	return reg.Freeze()
}
