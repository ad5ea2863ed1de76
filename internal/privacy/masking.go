package privacy

import (
	"net/url"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511999999999" -> "+*********9999"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskChatID masks a chat ID to show structure but hide sensitive parts
// Example: "5511999999999@c.us" -> "*********9999@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if numberPart, domainPart, found := strings.Cut(chatID, "@"); found {
		return maskString(numberPart, 4) + "@" + domainPart
	}

	return maskString(chatID, 4)
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		switch {
		case !isString:
			masked[k] = v
		case k == "phone" || k == "phone_number" || k == "source_id":
			masked[k] = MaskPhoneNumber(s)
		case k == "chat_id" || k == "chatId" || k == "sender_id":
			masked[k] = MaskChatID(s)
		case k == "endpoint" || k == "url":
			masked[k] = MaskURLQuery(s)
		case k == "token" || k == "api_token" || k == "secret":
			masked[k] = "[REDACTED]"
		default:
			masked[k] = v
		}
	}

	return masked
}

// MaskURLQuery masks every query value of rawURL, which may carry a phone
// number (contact search). URLs without a query are returned unchanged.
func MaskURLQuery(rawURL string) string {
	base, query, found := strings.Cut(rawURL, "?")
	if !found || query == "" {
		return rawURL
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return base + "?[REDACTED]"
	}
	for key, vals := range values {
		for i, v := range vals {
			vals[i] = MaskPhoneNumber(v)
		}
		values[key] = vals
	}
	return base + "?" + values.Encode()
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
