package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

func quotingMessage(quoted *waE2E.Message) *events.Message {
	return &events.Message{
		Message: &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("/s"),
				ContextInfo: &waE2E.ContextInfo{
					QuotedMessage: quoted,
				},
			},
		},
	}
}

func TestExtractQuotedMediaImage(t *testing.T) {
	evt := quotingMessage(&waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")},
	})

	media := ExtractQuotedMedia(evt)
	require.NotNil(t, media)
	assert.False(t, media.IsVideo)
	assert.NotNil(t, media.Message.GetImageMessage())
}

func TestExtractQuotedMediaVideo(t *testing.T) {
	evt := quotingMessage(&waE2E.Message{
		VideoMessage: &waE2E.VideoMessage{Mimetype: proto.String("video/mp4")},
	})

	media := ExtractQuotedMedia(evt)
	require.NotNil(t, media)
	assert.True(t, media.IsVideo)
	assert.NotNil(t, media.Message.GetVideoMessage())
}

func TestExtractQuotedMediaViewOnce(t *testing.T) {
	evt := quotingMessage(&waE2E.Message{
		ViewOnceMessageV2: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{
				ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")},
			},
		},
	})

	media := ExtractQuotedMedia(evt)
	require.NotNil(t, media)
	assert.False(t, media.IsVideo)
	assert.NotNil(t, media.Message.GetImageMessage())
}

func TestExtractQuotedMediaNoQuote(t *testing.T) {
	evt := &events.Message{
		Message: &waE2E.Message{Conversation: proto.String("/s")},
	}
	assert.Nil(t, ExtractQuotedMedia(evt))
}

func TestExtractQuotedMediaQuotedText(t *testing.T) {
	evt := quotingMessage(&waE2E.Message{Conversation: proto.String("just text")})
	assert.Nil(t, ExtractQuotedMedia(evt))
}
