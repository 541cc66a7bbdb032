// Package bot implements the chat command surface: an ordered prefix router
// with message dedup, and the handlers behind each command.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/aeonbot/aeon/pkg/log"
)

// seenClearThreshold bounds the processed-message set; once crossed, the
// whole set is dropped. Old entries cannot recur, WhatsApp does not redeliver
// that far back.
const seenClearThreshold = 1000

// Incoming is one inbound chat message, pre-parsed for handlers.
type Incoming struct {
	Client   *whatsmeow.Client
	Event    *events.Message
	Chat     types.JID
	Text     string
	PushName string
}

// Args returns the whitespace-separated arguments after the command word.
func (in *Incoming) Args() []string {
	fields := strings.Fields(in.Text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// Handler processes one matched command.
type Handler func(ctx context.Context, in *Incoming)

type route struct {
	prefix  string
	handler Handler
}

// Router matches messages against an ordered prefix table. A message matches
// a route when it starts with the prefix or equals the trimmed prefix;
// exactly one handler runs.
type Router struct {
	routes []route

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewRouter() *Router {
	return &Router{seen: make(map[string]struct{})}
}

// Handle appends a route. Parametrized commands register with a trailing
// space ("/ig ") so "/ignore" does not match.
func (r *Router) Handle(prefix string, handler Handler) {
	r.routes = append(r.routes, route{prefix: prefix, handler: handler})
}

// Dispatch filters, dedups, and routes one inbound message. It is safe to
// call from concurrent event-handler goroutines.
func (r *Router) Dispatch(ctx context.Context, client *whatsmeow.Client, evt *events.Message) {
	if evt.Message == nil || evt.Info.Chat.String() == "status@broadcast" {
		return
	}

	if !r.markSeen(dedupKey(evt)) {
		return
	}

	text := extractText(evt)
	if strings.TrimSpace(text) == "" {
		return
	}

	in := &Incoming{
		Client:   client,
		Event:    evt,
		Chat:     evt.Info.Chat,
		Text:     text,
		PushName: evt.Info.PushName,
	}

	for _, rt := range r.routes {
		if strings.HasPrefix(text, rt.prefix) || text == strings.TrimSpace(rt.prefix) {
			r.run(ctx, rt, in)
			return
		}
	}
}

func (r *Router) run(ctx context.Context, rt route, in *Incoming) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Print(nil).Errorf("Panic in %q handler: %v (message: %s)",
				strings.TrimSpace(rt.prefix), rec, truncate(in.Text, 80))
		}
	}()
	rt.handler(ctx, in)
}

// markSeen records the message key, reporting false for duplicates.
func (r *Router) markSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

// SweepSeen clears the dedup set once it outgrows the threshold.
func (r *Router) SweepSeen() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.seen) > seenClearThreshold {
		r.seen = make(map[string]struct{})
	}
}

func dedupKey(evt *events.Message) string {
	return fmt.Sprintf("%s_%s_%d", evt.Info.Chat.String(), evt.Info.ID, evt.Info.Timestamp.Unix())
}

func extractText(evt *events.Message) string {
	if text := evt.Message.GetConversation(); text != "" {
		return text
	}
	return evt.Message.GetExtendedTextMessage().GetText()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
