package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func textMessage(chat, id, text string) *events.Message {
	jid, _ := types.ParseJID(chat)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid},
			ID:            id,
			Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			PushName:      "Tester",
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestRouterMatchesBareAndPrefixed(t *testing.T) {
	r := NewRouter()

	var got []string
	r.Handle("/start", func(_ context.Context, in *Incoming) { got = append(got, "start:"+in.Text) })
	r.Handle("/ig ", func(_ context.Context, in *Incoming) { got = append(got, "ig:"+in.Text) })

	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m1", "/start"))
	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m2", "/ig https://instagram.com/reel/A/"))
	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m3", "/ig"))

	assert.Equal(t, []string{
		"start:/start",
		"ig:/ig https://instagram.com/reel/A/",
		"ig:/ig",
	}, got)
}

func TestRouterFirstMatchWins(t *testing.T) {
	r := NewRouter()

	var got string
	r.Handle("/s", func(_ context.Context, _ *Incoming) { got = "short" })
	r.Handle("/start", func(_ context.Context, _ *Incoming) { got = "long" })

	// "/start" begins with "/s"; only the first registered route runs
	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m1", "/start"))
	assert.Equal(t, "short", got)
}

func TestRouterIgnoresUnmatchedText(t *testing.T) {
	r := NewRouter()

	calls := 0
	r.Handle("/start", func(_ context.Context, _ *Incoming) { calls++ })

	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m1", "hello there"))
	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m2", "  "))
	assert.Zero(t, calls)
}

func TestRouterIgnoresStatusBroadcast(t *testing.T) {
	r := NewRouter()

	calls := 0
	r.Handle("/start", func(_ context.Context, _ *Incoming) { calls++ })

	r.Dispatch(context.Background(), nil, textMessage("status@broadcast", "m1", "/start"))
	assert.Zero(t, calls)
}

func TestRouterDedupsByChatIDAndTimestamp(t *testing.T) {
	r := NewRouter()

	calls := 0
	r.Handle("/start", func(_ context.Context, _ *Incoming) { calls++ })

	msg := textMessage("123@s.whatsapp.net", "m1", "/start")
	r.Dispatch(context.Background(), nil, msg)
	r.Dispatch(context.Background(), nil, msg)
	require.Equal(t, 1, calls)

	// same ID in a different chat is a different message
	r.Dispatch(context.Background(), nil, textMessage("456@s.whatsapp.net", "m1", "/start"))
	assert.Equal(t, 2, calls)
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	r := NewRouter()

	r.Handle("/boom", func(_ context.Context, _ *Incoming) { panic("handler exploded") })

	after := 0
	r.Handle("/ok", func(_ context.Context, _ *Incoming) { after++ })

	assert.NotPanics(t, func() {
		r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m1", "/boom"))
	})
	r.Dispatch(context.Background(), nil, textMessage("123@s.whatsapp.net", "m2", "/ok"))
	assert.Equal(t, 1, after)
}

func TestRouterReadsExtendedText(t *testing.T) {
	r := NewRouter()

	var got string
	r.Handle("/tt ", func(_ context.Context, in *Incoming) { got = in.Text })

	jid, _ := types.ParseJID("123@s.whatsapp.net")
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid},
			ID:            "m1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("/tt https://vt.tiktok.com/ZS8abc/"),
			},
		},
	}
	r.Dispatch(context.Background(), nil, evt)
	assert.Equal(t, "/tt https://vt.tiktok.com/ZS8abc/", got)
}

func TestSweepSeenClearsOnlyAboveThreshold(t *testing.T) {
	r := NewRouter()

	for i := 0; i < seenClearThreshold; i++ {
		require.True(t, r.markSeen(fmt.Sprintf("key-%d", i)))
	}
	r.SweepSeen()
	assert.False(t, r.markSeen("key-0"), "set at threshold must survive the sweep")

	require.True(t, r.markSeen("key-overflow"))
	r.SweepSeen()
	assert.True(t, r.markSeen("key-0"), "set above threshold must be cleared")
}

func TestIncomingArgs(t *testing.T) {
	in := &Incoming{Text: "/ig  https://instagram.com/reel/A/  extra"}
	assert.Equal(t, []string{"https://instagram.com/reel/A/", "extra"}, in.Args())

	in = &Incoming{Text: "/start"}
	assert.Nil(t, in.Args())
}

func TestIsSingleEmoji(t *testing.T) {
	assert.True(t, isSingleEmoji("🔥"))
	assert.True(t, isSingleEmoji("😀"))
	assert.False(t, isSingleEmoji("ab"))
	assert.False(t, isSingleEmoji("🔥🔥"))
	assert.False(t, isSingleEmoji(""))
}
