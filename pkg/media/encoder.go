package media

import (
	"bytes"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"chatwootbridge/internal/constants"
	apperrors "chatwootbridge/internal/errors"
	"chatwootbridge/pkg/session/types"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment is a decoded media payload ready for upload
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Data        io.Reader
}

// Encoder turns message media into uploadable attachments
type Encoder interface {
	Encode(msg *types.MessageEvent, payload []byte) (*Attachment, error)
}

type encoder struct {
	now func() time.Time
}

func NewEncoder() Encoder {
	return &encoder{now: time.Now}
}

// Encode names payload after the message timestamp and its normalized MIME
// type. The reader yields the whole buffer once.
func (e *encoder) Encode(msg *types.MessageEvent, payload []byte) (*Attachment, error) {
	if msg == nil {
		return nil, apperrors.NewMalformedInputError("message", "no message to encode")
	}
	if len(payload) == 0 {
		return nil, apperrors.NewMediaError("encode", msg.Mimetype, io.ErrUnexpectedEOF)
	}

	declared := msg.Mimetype
	if declared == "" {
		declared = mimetype.Detect(payload).String()
	}
	contentType := NormalizeMimeType(declared)

	stamp := msg.Timestamp.String()
	if stamp == "" {
		stamp = strconv.FormatInt(e.now().Unix(), 10)
	}

	return &Attachment{
		Filename:    stamp + "." + ExtensionFor(contentType),
		ContentType: contentType,
		Size:        len(payload),
		Data:        bytes.NewReader(payload),
	}, nil
}

// NormalizeMimeType strips parameters, lowercases and applies delivery rewrites
func NormalizeMimeType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	} else if base, _, ok := strings.Cut(mimeType, ";"); ok {
		mimeType = strings.TrimSpace(base)
	}
	mimeType = strings.ToLower(mimeType)

	if mimeType == "" {
		return constants.DefaultMimeType
	}
	if rewritten, ok := constants.MimeTypeRewrites[mimeType]; ok {
		return rewritten
	}
	return mimeType
}

// ExtensionFor returns the file extension, without dot, for a MIME type
func ExtensionFor(mimeType string) string {
	if ext, ok := constants.ContentTypeToExtension[mimeType]; ok {
		return ext
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return constants.DefaultExtension
}

// IsAttachmentType reports whether messages of msgType carry media
func IsAttachmentType(msgType string) bool {
	return constants.AttachmentMessageTypes[msgType]
}
