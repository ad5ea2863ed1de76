package database

// Delivery log queries
const (
	InsertDeliveryQuery = `
		INSERT INTO deliveries (
			event_id, session_name, chat_id, chat_id_hash, event_kind,
			message_type, contact_id, conversation_id, message_id,
			status, stage, error_code, handled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectRecentDeliveriesQuery = `
		SELECT id, event_id, session_name, chat_id, event_kind,
		       message_type, contact_id, conversation_id, message_id,
		       status, stage, error_code, handled_at
		FROM deliveries
		WHERE session_name = ?
		ORDER BY handled_at DESC, id DESC
		LIMIT ?
	`

	SelectDeliveriesByChatQuery = `
		SELECT id, event_id, session_name, chat_id, event_kind,
		       message_type, contact_id, conversation_id, message_id,
		       status, stage, error_code, handled_at
		FROM deliveries
		WHERE session_name = ? AND chat_id_hash = ?
		ORDER BY handled_at DESC, id DESC
		LIMIT ?
	`

	CountDeliveriesByStatusQuery = `
		SELECT status, COUNT(*)
		FROM deliveries
		WHERE session_name = ?
		GROUP BY status
	`

	DeleteDeliveriesBeforeQuery = `
		DELETE FROM deliveries
		WHERE handled_at < ?
	`
)
