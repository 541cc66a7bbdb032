package bot

import (
	"context"

	"github.com/aeonbot/aeon/pkg/fetch"
	"github.com/aeonbot/aeon/pkg/log"
)

func (b *Bot) handleTikTok(ctx context.Context, in *Incoming) {
	args := in.Args()
	if len(args) == 0 {
		b.reply(ctx, in, "📝 *Uso:* /tt <link_do_tiktok>\n\n💡 *Exemplo:* /tt https://tiktok.com/@user/video/123")
		return
	}

	url := args[0]
	log.Print(nil).Info("TikTok request: " + truncate(url, 50))

	cleaned, err := fetch.CleanTikTokURL(url)
	if err != nil || !fetch.IsTikTokURL(cleaned) {
		b.reply(ctx, in, "❌ *Link inválido!* Por favor, envie um link válido do TikTok.")
		return
	}

	user := in.Chat.String()
	if !b.limiter.Allow(user) {
		b.reply(ctx, in, "⏱️ *Muitas tentativas!* Aguarde 1 minuto.")
		return
	}

	fingerprint := user + "_" + cleaned
	if !b.dedup.Acquire(fingerprint) {
		log.Print(nil).Warn("Duplicate TikTok request ignored")
		return
	}
	defer b.dedup.Release(fingerprint)

	b.reply(ctx, in, "🔄 *Processando link do TikTok...*")

	videoURL, err := b.tiktok.Resolve(ctx, cleaned)
	if err != nil {
		log.Print(nil).Warn("TikTok resolution failed: ", err)
		b.reply(ctx, in, "❌ *Não foi possível baixar o vídeo*\n\n💡 Verifique se:\n• O link é público\n• O vídeo não foi removido\n• A conta não é privada")
		return
	}

	data, err := b.ttFetch.Download(ctx, videoURL)
	if err != nil {
		log.Print(nil).Warn("TikTok download failed: ", err)
		b.reply(ctx, in, "❌ *Falha no download do vídeo*\n💡 Tente novamente em alguns minutos")
		return
	}

	if _, err := b.manager.SendVideo(ctx, in.Chat, data, "📥 *Download concluído!*"); err != nil {
		log.Print(nil).Warn("Error sending TikTok video: ", err)
		b.reply(ctx, in, "❌ *Erro ao enviar vídeo*\n💡 O arquivo pode estar corrompido")
		return
	}

	log.Print(nil).Info("TikTok video delivered")
}
