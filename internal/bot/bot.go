package bot

import (
	"context"
	"os"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/fetch"
	"github.com/aeonbot/aeon/pkg/log"
	"github.com/aeonbot/aeon/pkg/ratelimit"
	"github.com/aeonbot/aeon/pkg/sticker"
	"github.com/aeonbot/aeon/pkg/whatsapp"
)

const (
	rateLimitPerWindow = 5
	rateLimitWindow    = time.Minute
	dedupGrace         = 5 * time.Minute
	handlerTimeout     = 3 * time.Minute
)

// Bot glues the command router to the session manager and the media
// pipeline. One instance serves the whole process.
type Bot struct {
	manager   *whatsapp.Manager
	router    *Router
	limiter   *ratelimit.Limiter
	dedup     *ratelimit.Dedup
	instagram *fetch.Chain
	tiktok    *fetch.Chain
	igFetch   *fetch.Downloader
	ttFetch   *fetch.Downloader
	converter *sticker.Converter

	welcomeImage []byte
}

func New(manager *whatsapp.Manager) *Bot {
	b := &Bot{
		manager:   manager,
		router:    NewRouter(),
		limiter:   ratelimit.NewLimiter(rateLimitPerWindow, rateLimitWindow),
		dedup:     ratelimit.NewDedup(dedupGrace),
		instagram: fetch.NewInstagramChain(),
		tiktok:    fetch.NewTikTokChain(),
		igFetch:   fetch.NewDownloader(fetch.InstagramMaxBytes),
		ttFetch:   fetch.NewDownloader(fetch.TikTokMaxBytes),
		converter: sticker.NewConverter(),
	}
	b.loadWelcomeImage()

	b.router.Handle("/start", b.handleStart)
	b.router.Handle("/info", b.handleInfo)
	b.router.Handle("/ig ", b.handleInstagram)
	b.router.Handle("/tt ", b.handleTikTok)
	b.router.Handle("/s", b.handleSticker)

	manager.SetMessageHandler(b.HandleMessage)
	return b
}

// HandleMessage is the manager's inbound message callback. Each message gets
// its own bounded context; a stuck download cannot pin a goroutine forever.
func (b *Bot) HandleMessage(client *whatsmeow.Client, evt *events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	b.router.Dispatch(ctx, client, evt)
}

// SweepCaches runs the periodic maintenance on the dedup set and limiters.
func (b *Bot) SweepCaches() {
	b.router.SweepSeen()
	b.limiter.Sweep()
	b.dedup.Sweep()
}

func (b *Bot) loadWelcomeImage() {
	path := env.GetEnvStringOrDefault("BOT_WELCOME_IMAGE", "")
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Print(nil).Warn("Welcome image not loaded: ", err)
		return
	}
	b.welcomeImage = data
}

// reply sends a text response, logging failures instead of surfacing them:
// a failed notification must not abort the handler.
func (b *Bot) reply(ctx context.Context, in *Incoming, text string) {
	if _, err := b.manager.SendText(ctx, in.Chat, text); err != nil {
		log.Print(nil).Warn("Error sending reply: ", err)
	}
}

func (b *Bot) handleStart(ctx context.Context, in *Incoming) {
	name := in.PushName
	if name == "" {
		name = "usuário"
	}

	welcome := "*SEJA BEM-VINDO(A)*\n\n" +
		"ツ *Olá, " + name + "!*\n\n" +
		"📋 *Sobre o Aeon:*\n" +
		"╰┈➤ _Poderoso e flexível, projetado para automação e gerenciamento aprimorado de grupos._\n\n" +
		"🛠️ *Comando disponível*\n" +
		"╰┈➤ Digite */info* para ver os comandos"

	if b.welcomeImage != nil {
		_, err := b.manager.SendImage(ctx, in.Chat, b.welcomeImage, "image/jpeg", welcome)
		if err == nil {
			return
		}
		log.Print(nil).Warn("Error sending welcome image: ", err)
	}
	b.reply(ctx, in, welcome)
}

type commandInfo struct {
	description string
	usage       string
}

var botCommands = []commandInfo{
	{description: "Iniciar o bot", usage: "/start"},
	{description: "Ver os comandos", usage: "/info"},
	{description: "Baixar vídeo do Instagram", usage: "/ig <link_do_instagram>"},
	{description: "Baixar vídeo do TikTok", usage: "/tt <link_do_tiktok>"},
	{description: "Converter sticker ou sticker animado", usage: "/s"},
}

const (
	botName    = "Aeon"
	botVersion = "1.0.0"
	botAuthors = "Diego Melo & Bruno Ruthes"
)

func (b *Bot) handleInfo(ctx context.Context, in *Incoming) {
	text := "✨ *" + botName + "*\n" +
		"╰┈➤ Versão: " + botVersion + "\n" +
		"👤 *Dev's:*\n" +
		"╰┈➤ " + botAuthors + "\n\n" +
		"🛠️ *Comandos disponíveis:*\n\n"

	for _, cmd := range botCommands {
		text += "• *" + cmd.description + "*\n"
		text += "  ╰┈➤ Uso: `" + cmd.usage + "`\n"
	}

	b.reply(ctx, in, text)
}
