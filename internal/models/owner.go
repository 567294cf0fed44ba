package models

import (
	"fmt"
	"strings"
)

// OwnerKind is the role an owner holds a reference in. Raw values are persisted.
type OwnerKind int

const (
	OwnerKindMessageBodyAttachment OwnerKind = 0
	OwnerKindMessageOversizeText   OwnerKind = 1
	OwnerKindMessageLinkPreview    OwnerKind = 2
	OwnerKindQuotedReplyAttachment OwnerKind = 3
	OwnerKindMessageSticker        OwnerKind = 4
	OwnerKindMessageContactAvatar  OwnerKind = 5
	OwnerKindStoryMedia            OwnerKind = 6
	OwnerKindStoryLinkPreview      OwnerKind = 7
	OwnerKindThreadWallpaper       OwnerKind = 8
)

// OwnerSource groups owner kinds by the kind of row that owns the reference.
type OwnerSource int

const (
	OwnerSourceMessage OwnerSource = iota
	OwnerSourceStory
	OwnerSourceThread
)

var ownerKindNames = map[OwnerKind]string{
	OwnerKindMessageBodyAttachment: "message_body_attachment",
	OwnerKindMessageOversizeText:   "message_oversize_text",
	OwnerKindMessageLinkPreview:    "message_link_preview",
	OwnerKindQuotedReplyAttachment: "quoted_reply_attachment",
	OwnerKindMessageSticker:        "message_sticker",
	OwnerKindMessageContactAvatar:  "message_contact_avatar",
	OwnerKindStoryMedia:            "story_media",
	OwnerKindStoryLinkPreview:      "story_link_preview",
	OwnerKindThreadWallpaper:       "thread_wallpaper",
}

// MessageOwnerKinds lists the message-sourced kinds in persisted order.
var MessageOwnerKinds = []OwnerKind{
	OwnerKindMessageBodyAttachment,
	OwnerKindMessageOversizeText,
	OwnerKindMessageLinkPreview,
	OwnerKindQuotedReplyAttachment,
	OwnerKindMessageSticker,
	OwnerKindMessageContactAvatar,
}

func (k OwnerKind) String() string {
	if name, ok := ownerKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("owner_kind(%d)", int(k))
}

func (k OwnerKind) Valid() bool {
	_, ok := ownerKindNames[k]
	return ok
}

// Source returns the row kind that owns references of kind k.
func (k OwnerKind) Source() OwnerSource {
	switch k {
	case OwnerKindStoryMedia, OwnerKindStoryLinkPreview:
		return OwnerSourceStory
	case OwnerKindThreadWallpaper:
		return OwnerSourceThread
	default:
		return OwnerSourceMessage
	}
}

// IsPlural reports whether an owner may hold more than one reference of kind k.
// Only body attachments are plural; they are ordered by OrderInOwner.
func (k OwnerKind) IsPlural() bool {
	return k == OwnerKindMessageBodyAttachment
}

func (k OwnerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OwnerKind) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, name := range ownerKindNames {
		if name == value {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("invalid owner kind: %s", value)
}

func (s OwnerSource) String() string {
	switch s {
	case OwnerSourceMessage:
		return "message"
	case OwnerSourceStory:
		return "story"
	case OwnerSourceThread:
		return "thread"
	default:
		return fmt.Sprintf("owner_source(%d)", int(s))
	}
}

// OwnerID identifies one owner role: the kind plus the owning row id.
type OwnerID struct {
	Kind  OwnerKind `json:"kind"`
	RowID int64     `json:"row_id"`
}

func (id OwnerID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.RowID)
}

// Inserted reports whether the owning row has been assigned a row id.
func (id OwnerID) Inserted() bool {
	return id.RowID > 0
}

func MessageBodyAttachmentOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindMessageBodyAttachment, RowID: messageRowID}
}

func MessageOversizeTextOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindMessageOversizeText, RowID: messageRowID}
}

func MessageLinkPreviewOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindMessageLinkPreview, RowID: messageRowID}
}

func QuotedReplyAttachmentOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindQuotedReplyAttachment, RowID: messageRowID}
}

func MessageStickerOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindMessageSticker, RowID: messageRowID}
}

func MessageContactAvatarOwner(messageRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindMessageContactAvatar, RowID: messageRowID}
}

func StoryMediaOwner(storyRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindStoryMedia, RowID: storyRowID}
}

func StoryLinkPreviewOwner(storyRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindStoryLinkPreview, RowID: storyRowID}
}

func ThreadWallpaperOwner(threadRowID int64) OwnerID {
	return OwnerID{Kind: OwnerKindThreadWallpaper, RowID: threadRowID}
}

// RenderingFlag tells renderers how to present body and quoted-reply media.
type RenderingFlag int

const (
	RenderingFlagDefault RenderingFlag = iota
	RenderingFlagVoiceMessage
	RenderingFlagBorderless
	RenderingFlagShouldLoop
)

func (f RenderingFlag) String() string {
	switch f {
	case RenderingFlagDefault:
		return "default"
	case RenderingFlagVoiceMessage:
		return "voice_message"
	case RenderingFlagBorderless:
		return "borderless"
	case RenderingFlagShouldLoop:
		return "should_loop"
	default:
		return fmt.Sprintf("rendering_flag(%d)", int(f))
	}
}

// Owner is the validated, typed view of an OwnerID plus role metadata.
// The set of implementations is closed; build values with BuildOwner.
type Owner interface {
	ID() OwnerID
	// Metadata returns the raw column form; BuildOwner(o.ID(), o.Metadata())
	// reconstructs an equal owner.
	Metadata() OwnerMetadata
	isOwner()
}

// MessageBodyAttachment owns one ordered media item in a message body.
type MessageBodyAttachment struct {
	MessageRowID  int64
	ThreadRowID   int64
	OrderInOwner  int64
	RenderingFlag RenderingFlag
	Caption       string
}

// MessageOversizeText owns the text attachment holding a long message body.
type MessageOversizeText struct {
	MessageRowID int64
	ThreadRowID  int64
}

// MessageLinkPreview owns the image of a message link preview.
type MessageLinkPreview struct {
	MessageRowID int64
	ThreadRowID  int64
}

// QuotedReplyAttachment owns the thumbnail shown for a quoted message.
type QuotedReplyAttachment struct {
	MessageRowID  int64
	ThreadRowID   int64
	RenderingFlag RenderingFlag
}

// MessageSticker owns the image of a sticker message.
type MessageSticker struct {
	MessageRowID  int64
	ThreadRowID   int64
	StickerPackID []byte
	StickerID     int64
}

// MessageContactAvatar owns the avatar of a shared contact.
type MessageContactAvatar struct {
	MessageRowID int64
	ThreadRowID  int64
}

// StoryMedia owns the media of a story post.
type StoryMedia struct {
	StoryRowID int64
	Caption    string
	ShouldLoop bool
}

// StoryLinkPreview owns the link preview image of a text story.
type StoryLinkPreview struct {
	StoryRowID int64
}

// ThreadWallpaper owns a per-thread wallpaper image.
type ThreadWallpaper struct {
	ThreadRowID int64
}

func (o MessageBodyAttachment) ID() OwnerID { return MessageBodyAttachmentOwner(o.MessageRowID) }
func (o MessageOversizeText) ID() OwnerID   { return MessageOversizeTextOwner(o.MessageRowID) }
func (o MessageLinkPreview) ID() OwnerID    { return MessageLinkPreviewOwner(o.MessageRowID) }
func (o QuotedReplyAttachment) ID() OwnerID { return QuotedReplyAttachmentOwner(o.MessageRowID) }
func (o MessageSticker) ID() OwnerID        { return MessageStickerOwner(o.MessageRowID) }
func (o MessageContactAvatar) ID() OwnerID  { return MessageContactAvatarOwner(o.MessageRowID) }
func (o StoryMedia) ID() OwnerID            { return StoryMediaOwner(o.StoryRowID) }
func (o StoryLinkPreview) ID() OwnerID      { return StoryLinkPreviewOwner(o.StoryRowID) }
func (o ThreadWallpaper) ID() OwnerID       { return ThreadWallpaperOwner(o.ThreadRowID) }

func (MessageBodyAttachment) isOwner() {}
func (MessageOversizeText) isOwner()   {}
func (MessageLinkPreview) isOwner()    {}
func (QuotedReplyAttachment) isOwner() {}
func (MessageSticker) isOwner()        {}
func (MessageContactAvatar) isOwner()  {}
func (StoryMedia) isOwner()            {}
func (StoryLinkPreview) isOwner()      {}
func (ThreadWallpaper) isOwner()       {}

func (o MessageBodyAttachment) Metadata() OwnerMetadata {
	return OwnerMetadata{
		OrderInOwner: ptr(o.OrderInOwner),
		Flags:        int(o.RenderingFlag),
		ThreadRowID:  ptr(o.ThreadRowID),
		Caption:      optionalString(o.Caption),
	}
}

func (o MessageOversizeText) Metadata() OwnerMetadata {
	return OwnerMetadata{ThreadRowID: ptr(o.ThreadRowID)}
}

func (o MessageLinkPreview) Metadata() OwnerMetadata {
	return OwnerMetadata{ThreadRowID: ptr(o.ThreadRowID)}
}

func (o QuotedReplyAttachment) Metadata() OwnerMetadata {
	return OwnerMetadata{Flags: int(o.RenderingFlag), ThreadRowID: ptr(o.ThreadRowID)}
}

func (o MessageSticker) Metadata() OwnerMetadata {
	return OwnerMetadata{
		ThreadRowID:   ptr(o.ThreadRowID),
		StickerPackID: append([]byte(nil), o.StickerPackID...),
		StickerID:     ptr(o.StickerID),
	}
}

func (o MessageContactAvatar) Metadata() OwnerMetadata {
	return OwnerMetadata{ThreadRowID: ptr(o.ThreadRowID)}
}

func (o StoryMedia) Metadata() OwnerMetadata {
	flags := int(RenderingFlagDefault)
	if o.ShouldLoop {
		flags = int(RenderingFlagShouldLoop)
	}
	return OwnerMetadata{Flags: flags, Caption: optionalString(o.Caption)}
}

func (o StoryLinkPreview) Metadata() OwnerMetadata { return OwnerMetadata{} }
func (o ThreadWallpaper) Metadata() OwnerMetadata  { return OwnerMetadata{} }

// ThreadRowIDOf returns the containing thread row id of message-sourced owners.
func ThreadRowIDOf(o Owner) (int64, bool) {
	meta := o.Metadata()
	if meta.ThreadRowID == nil {
		return 0, false
	}
	return *meta.ThreadRowID, true
}

func ptr[T any](v T) *T {
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
