package whatsapp

import (
	"bytes"
	"context"
	"errors"

	"github.com/sunshineplan/imgconv"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Reply carries the message being responded to so sends can quote it.
type Reply struct {
	MessageID string
	Sender    types.JID
	Message   *waE2E.Message
}

func contextInfo(reply *Reply) *waE2E.ContextInfo {
	if reply == nil {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(reply.MessageID),
		Participant:   proto.String(reply.Sender.String()),
		QuotedMessage: reply.Message,
	}
}

// SendText sends a plain text message.
func (m *Manager) SendText(ctx context.Context, to types.JID, text string) (string, error) {
	client, err := m.Client()
	if err != nil {
		return "", err
	}

	extra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	_, err = client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)}, extra)
	if err != nil {
		return "", err
	}
	return extra.ID, nil
}

// SendImage uploads and sends an image with a 72px JPEG thumbnail.
func (m *Manager) SendImage(ctx context.Context, to types.JID, data []byte, mimeType string, caption string) (string, error) {
	client, err := m.Client()
	if err != nil {
		return "", err
	}

	uploaded, err := client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return "", errors.New("whatsapp: image upload failed: " + err.Error())
	}

	message := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(mimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}

	// thumbnail failure degrades the preview, not the send
	if thumb, err := imageThumbnail(data); err == nil {
		message.ImageMessage.JPEGThumbnail = thumb
	}

	extra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	if _, err = client.SendMessage(ctx, to, message, extra); err != nil {
		return "", err
	}
	return extra.ID, nil
}

// SendVideo uploads and sends a video with a caption.
func (m *Manager) SendVideo(ctx context.Context, to types.JID, data []byte, caption string) (string, error) {
	client, err := m.Client()
	if err != nil {
		return "", err
	}

	uploaded, err := client.Upload(ctx, data, whatsmeow.MediaVideo)
	if err != nil {
		return "", errors.New("whatsapp: video upload failed: " + err.Error())
	}

	message := &waE2E.Message{
		VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String("video/mp4"),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}

	extra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	if _, err = client.SendMessage(ctx, to, message, extra); err != nil {
		return "", err
	}
	return extra.ID, nil
}

// SendSticker uploads and sends a WebP sticker, optionally quoting the
// message that requested it.
func (m *Manager) SendSticker(ctx context.Context, to types.JID, webp []byte, animated bool, reply *Reply) (string, error) {
	client, err := m.Client()
	if err != nil {
		return "", err
	}

	uploaded, err := client.Upload(ctx, webp, whatsmeow.MediaImage)
	if err != nil {
		return "", errors.New("whatsapp: sticker upload failed: " + err.Error())
	}

	stickerMsg := &waE2E.StickerMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		Mimetype:      proto.String("image/webp"),
		FileLength:    proto.Uint64(uploaded.FileLength),
		FileSHA256:    uploaded.FileSHA256,
		FileEncSHA256: uploaded.FileEncSHA256,
		MediaKey:      uploaded.MediaKey,
		Height:        proto.Uint32(512),
		Width:         proto.Uint32(512),
		ContextInfo:   contextInfo(reply),
	}
	if animated {
		stickerMsg.IsAnimated = proto.Bool(true)
	}

	extra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	if _, err = client.SendMessage(ctx, to, &waE2E.Message{StickerMessage: stickerMsg}, extra); err != nil {
		return "", err
	}
	return extra.ID, nil
}

func imageThumbnail(data []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = imgconv.Write(&buf,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// QuotedMedia is a downloadable image or video lifted from a quoted message,
// unwrapping view-once containers.
type QuotedMedia struct {
	Message *waE2E.Message
	IsVideo bool
}

// ExtractQuotedMedia pulls the image or video out of the message quoted by
// evt, looking through view-once wrappers. Returns nil when nothing usable
// is quoted.
func ExtractQuotedMedia(evt *events.Message) *QuotedMedia {
	ext := evt.Message.GetExtendedTextMessage()
	if ext == nil {
		return nil
	}
	quoted := ext.GetContextInfo().GetQuotedMessage()
	if quoted == nil {
		return nil
	}

	if inner := unwrapViewOnce(quoted); inner != nil {
		quoted = inner
	}

	switch {
	case quoted.GetImageMessage() != nil:
		return &QuotedMedia{
			Message: &waE2E.Message{ImageMessage: quoted.GetImageMessage()},
			IsVideo: false,
		}
	case quoted.GetVideoMessage() != nil:
		return &QuotedMedia{
			Message: &waE2E.Message{VideoMessage: quoted.GetVideoMessage()},
			IsVideo: true,
		}
	}
	return nil
}

func unwrapViewOnce(msg *waE2E.Message) *waE2E.Message {
	if v := msg.GetViewOnceMessage(); v != nil {
		return v.GetMessage()
	}
	if v := msg.GetViewOnceMessageV2(); v != nil {
		return v.GetMessage()
	}
	if v := msg.GetViewOnceMessageV2Extension(); v != nil {
		return v.GetMessage()
	}
	return nil
}

// DownloadQuoted fetches the media bytes for a quoted image or video.
func (m *Manager) DownloadQuoted(ctx context.Context, media *QuotedMedia) ([]byte, error) {
	client, err := m.Client()
	if err != nil {
		return nil, err
	}
	return client.DownloadAny(ctx, media.Message)
}
