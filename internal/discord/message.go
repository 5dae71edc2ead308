package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/parsascontentcorner/grokgate/internal/service"
)

const (
	// maxContentRunes is Discord's message content limit.
	maxContentRunes = 2000

	embedTitle       = "Grok Image"
	embedColor       = 2563755
	approvedImageDoc = "Generated image from Grok"
)

// BuildMessage renders a reply. Only the mentioned user is pinged.
func BuildMessage(content, mentionUserID, embedURL string) *discordgo.MessageSend {
	text := content
	if mentionUserID != "" {
		text = fmt.Sprintf("<@%s> %s", mentionUserID, content)
	}

	msg := &discordgo.MessageSend{
		Content:         truncate(text, maxContentRunes),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if mentionUserID != "" {
		msg.AllowedMentions.Users = []string{mentionUserID}
	}

	if embedURL != "" {
		description := content
		if content == service.ApprovedImageContent {
			description = approvedImageDoc
		}
		msg.Embeds = []*discordgo.MessageEmbed{{
			Title:       embedTitle,
			Description: description,
			Color:       embedColor,
			Image:       &discordgo.MessageEmbedImage{URL: embedURL},
		}}
	}
	return msg
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
