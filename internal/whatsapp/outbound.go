package whatsapp

import (
	"fmt"
	"strings"

	"github.com/sectorhub/wagateway/internal/media"
)

// OutboundMessage is the body of POST /{phone-number-id}/messages.
type OutboundMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type,omitempty"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *TextBody  `json:"text,omitempty"`
	Image            *MediaLink `json:"image,omitempty"`
	Audio            *MediaLink `json:"audio,omitempty"`
	Video            *MediaLink `json:"video,omitempty"`
	Document         *MediaLink `json:"document,omitempty"`
}

type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// MediaLink references media by public URL.
type MediaLink struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// NewTextMessage builds a text message to the given number.
func NewTextMessage(to, body string) OutboundMessage {
	return OutboundMessage{
		MessagingProduct: messagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextBody{Body: body},
	}
}

// NewMediaMessage builds a media message. Each kind only carries the fields
// the API accepts for it: audio and video take a bare link, image adds a
// caption, document adds a caption and file name.
func NewMediaMessage(to string, kind media.Type, link, caption, fileName string) (OutboundMessage, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return OutboundMessage{}, fmt.Errorf("media link is required")
	}
	msg := OutboundMessage{
		MessagingProduct: messagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             string(kind),
	}
	switch kind {
	case media.TypeAudio:
		msg.Audio = &MediaLink{Link: link}
	case media.TypeVideo:
		msg.Video = &MediaLink{Link: link}
	case media.TypeImage:
		msg.Image = &MediaLink{Link: link, Caption: caption}
	case media.TypeDocument:
		msg.Document = &MediaLink{Link: link, Caption: caption, Filename: fileName}
	default:
		return OutboundMessage{}, fmt.Errorf("unsupported media type %q", kind)
	}
	return msg, nil
}
