package bot

import (
	"context"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"

	"github.com/aeonbot/aeon/pkg/log"
	"github.com/aeonbot/aeon/pkg/sticker"
	"github.com/aeonbot/aeon/pkg/whatsapp"
)

func (b *Bot) handleSticker(ctx context.Context, in *Incoming) {
	media := whatsapp.ExtractQuotedMedia(in.Event)
	if media == nil {
		b.reply(ctx, in, "*[❎]* Responda a uma imagem ou vídeo com /s!")
		return
	}

	var emojis []string
	if args := in.Args(); len(args) > 0 {
		if !isSingleEmoji(args[0]) {
			b.reply(ctx, in, "*[❎]* O argumento de /s deve ser um único emoji!")
			return
		}
		emojis = []string{args[0]}
	}

	data, err := b.manager.DownloadQuoted(ctx, media)
	if err != nil {
		log.Print(nil).Warn("Quoted media download failed: ", err)
		b.reply(ctx, in, "*[❎]* Falha ao baixar a mídia!")
		return
	}

	var webp []byte
	if media.IsVideo {
		webp, err = b.converter.FromVideo(ctx, data, emojis)
	} else {
		webp, err = b.converter.FromImage(ctx, data, emojis)
	}
	if err != nil {
		log.Print(nil).Warn("Sticker conversion failed: ", err)
		b.reply(ctx, in, "*[❎]* Erro ao criar o sticker!")
		return
	}

	_, animated := sticker.SniffWebP(webp)
	reply := &whatsapp.Reply{
		MessageID: in.Event.Info.ID,
		Sender:    in.Event.Info.Sender,
		Message:   in.Event.Message,
	}
	if _, err := b.manager.SendSticker(ctx, in.Chat, webp, animated, reply); err != nil {
		log.Print(nil).Warn("Error sending sticker: ", err)
		b.reply(ctx, in, "*[❎]* Erro ao enviar o sticker!")
		return
	}

	log.Print(nil).Info("Sticker delivered")
}

// isSingleEmoji accepts exactly one grapheme cluster that contains an emoji.
func isSingleEmoji(s string) bool {
	return gomoji.ContainsEmoji(s) && uniseg.GraphemeClusterCount(s) == 1
}
