package bot

import (
	"context"

	"github.com/aeonbot/aeon/pkg/fetch"
	"github.com/aeonbot/aeon/pkg/log"
)

func (b *Bot) handleInstagram(ctx context.Context, in *Incoming) {
	args := in.Args()
	if len(args) == 0 {
		b.reply(ctx, in, "📝 *Uso:* /ig <link_do_instagram>\n\n💡 *Exemplo:* /ig https://instagram.com/reel/ABC123/")
		return
	}

	url := args[0]
	log.Print(nil).Info("Instagram request: " + truncate(url, 50))

	if !fetch.IsInstagramURL(url) {
		b.reply(ctx, in, "❌ *Link inválido!* Por favor, envie um link válido do Instagram.")
		return
	}

	user := in.Chat.String()
	if !b.limiter.Allow(user) {
		b.reply(ctx, in, "⏱️ *Muitas tentativas!* Aguarde 1 minuto.")
		return
	}

	fingerprint := user + "_" + url
	if !b.dedup.Acquire(fingerprint) {
		log.Print(nil).Warn("Duplicate Instagram request ignored")
		return
	}
	defer b.dedup.Release(fingerprint)

	b.reply(ctx, in, "🔄 *Processando link do Instagram...*")

	mediaURL, err := b.instagram.Resolve(ctx, url)
	if err != nil {
		log.Print(nil).Warn("Instagram resolution failed: ", err)
		b.reply(ctx, in, "❌ *Ferramentas de download não configuradas*\n\n📋 Instale yt-dlp ou gallery-dl para usar este recurso.")
		return
	}

	data, err := b.igFetch.Download(ctx, mediaURL)
	if err != nil {
		log.Print(nil).Warn("Instagram download failed: ", err)
		b.reply(ctx, in, "❌ *Falha no download da mídia*\n💡 Tente novamente em alguns minutos")
		return
	}

	caption := "📥 *Download concluído!*"
	if fetch.LooksLikeVideo(mediaURL) {
		_, err = b.manager.SendVideo(ctx, in.Chat, data, caption)
	} else {
		_, err = b.manager.SendImage(ctx, in.Chat, data, "image/jpeg", caption)
	}
	if err != nil {
		log.Print(nil).Warn("Error sending Instagram media: ", err)
		b.reply(ctx, in, "❌ *Erro ao enviar mídia*\n💡 O arquivo pode estar corrompido ou muito grande")
		return
	}

	log.Print(nil).Info("Instagram media delivered")
}
