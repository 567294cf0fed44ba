package models

import (
	"fmt"
	"log/slog"
)

// OwnerMetadata is the loosely typed column form of an owner's role metadata.
// Nil pointers are absent columns.
type OwnerMetadata struct {
	OrderInOwner  *int64
	Flags         int
	ThreadRowID   *int64
	Caption       *string
	StickerPackID []byte
	StickerID     *int64
	ContentType   *ContentType
}

// BuildOwner validates raw owner columns against the required-field set of
// id.Kind. It performs no I/O. Missing fields yield an error wrapping
// ErrMalformedOwnerMetadata.
func BuildOwner(id OwnerID, meta OwnerMetadata) (Owner, error) {
	if !id.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown owner kind %d", ErrMalformedOwnerMetadata, int(id.Kind))
	}

	if id.Kind.Source() == OwnerSourceMessage && meta.ThreadRowID == nil {
		return nil, missingField(id, "thread_row_id")
	}
	caption := ""
	if meta.Caption != nil {
		caption = *meta.Caption
	}

	switch id.Kind {
	case OwnerKindMessageBodyAttachment:
		if meta.OrderInOwner == nil {
			return nil, missingField(id, "order_in_owner")
		}
		if *meta.OrderInOwner < 0 {
			return nil, fmt.Errorf("%w: %s has negative order_in_owner", ErrMalformedOwnerMetadata, id)
		}
		return MessageBodyAttachment{
			MessageRowID:  id.RowID,
			ThreadRowID:   *meta.ThreadRowID,
			OrderInOwner:  *meta.OrderInOwner,
			RenderingFlag: RenderingFlag(meta.Flags),
			Caption:       caption,
		}, nil
	case OwnerKindMessageOversizeText:
		return MessageOversizeText{MessageRowID: id.RowID, ThreadRowID: *meta.ThreadRowID}, nil
	case OwnerKindMessageLinkPreview:
		return MessageLinkPreview{MessageRowID: id.RowID, ThreadRowID: *meta.ThreadRowID}, nil
	case OwnerKindQuotedReplyAttachment:
		return QuotedReplyAttachment{
			MessageRowID:  id.RowID,
			ThreadRowID:   *meta.ThreadRowID,
			RenderingFlag: RenderingFlag(meta.Flags),
		}, nil
	case OwnerKindMessageSticker:
		if len(meta.StickerPackID) == 0 {
			return nil, missingField(id, "sticker_pack_id")
		}
		if meta.StickerID == nil {
			return nil, missingField(id, "sticker_id")
		}
		return MessageSticker{
			MessageRowID:  id.RowID,
			ThreadRowID:   *meta.ThreadRowID,
			StickerPackID: append([]byte(nil), meta.StickerPackID...),
			StickerID:     *meta.StickerID,
		}, nil
	case OwnerKindMessageContactAvatar:
		return MessageContactAvatar{MessageRowID: id.RowID, ThreadRowID: *meta.ThreadRowID}, nil
	case OwnerKindStoryMedia:
		return StoryMedia{
			StoryRowID: id.RowID,
			Caption:    caption,
			ShouldLoop: RenderingFlag(meta.Flags) == RenderingFlagShouldLoop,
		}, nil
	case OwnerKindStoryLinkPreview:
		return StoryLinkPreview{StoryRowID: id.RowID}, nil
	case OwnerKindThreadWallpaper:
		return ThreadWallpaper{ThreadRowID: id.RowID}, nil
	}
	return nil, fmt.Errorf("%w: unhandled owner kind %s", ErrMalformedOwnerMetadata, id.Kind)
}

// ValidateAndBuild is BuildOwner for read paths: a malformed row is logged and
// reported as absent so one bad row cannot block its neighbours.
func ValidateAndBuild(logger *slog.Logger, id OwnerID, meta OwnerMetadata) (Owner, bool) {
	owner, err := BuildOwner(id, meta)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("skipping malformed attachment owner", "owner", id.String(), "err", err)
		return nil, false
	}
	return owner, true
}

func missingField(id OwnerID, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMalformedOwnerMetadata, id, field)
}
