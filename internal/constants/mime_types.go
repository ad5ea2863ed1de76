package constants

// DefaultMimeType is the fallback MIME type for payloads without one
const DefaultMimeType = "application/octet-stream"

// DefaultExtension is used when no extension can be inferred
const DefaultExtension = "bin"

// MimeTypeRewrites lists MIME types replaced before delivery.
// The inbox preview pipeline does not render webp reliably.
var MimeTypeRewrites = map[string]string{
	"image/webp": "image/jpeg",
}

// ContentTypeToExtension maps MIME types to their preferred file extensions
var ContentTypeToExtension = map[string]string{
	// Audio content type mappings
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/aac":  "aac",
	"audio/m4a":  "m4a",
	"audio/mp4":  "m4a",
	"audio/wav":  "wav",

	// Image content type mappings
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",

	// Video content type mappings
	"video/mp4":       "mp4",
	"video/3gpp":      "3gp",
	"video/quicktime": "mov",
	"video/x-msvideo": "avi",

	// Document content type mappings
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"text/plain":               "txt",
	"application/octet-stream": "bin",
}

// AttachmentMessageTypes are the session message types delivered as attachments
var AttachmentMessageTypes = map[string]bool{
	"image":    true,
	"video":    true,
	"in":       true,
	"document": true,
	"ptt":      true,
	"audio":    true,
	"sticker":  true,
}
