package adminapi

// MetaUser is the profile nested inside a chat-room metadata record.
type MetaUser struct {
	ID           int    `json:"id"`
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	PhotoURL     string `json:"photo_url"`
	IsPremium    bool   `json:"is_premium"`
	PremiumUntil string `json:"premium_until"`
	IsBanned     bool   `json:"is_banned"`
	BannedReason string `json:"banned_reason"`
	LastLoginAt  string `json:"last_login_at"`
	CreatedAt    string `json:"created_at"`
}

// RoomMeta is the enriched per-room record served by the admin API. The ban
// fields here are authoritative and may diverge from the denormalized copy on
// the live room document.
type RoomMeta struct {
	ID                string    `json:"id"`
	UID               string    `json:"uid"`
	Status            string    `json:"status"`
	ChatBanned        bool      `json:"chat_banned"`
	ChatBanReason     string    `json:"chat_ban_reason"`
	LastAdminReplyAt  string    `json:"last_admin_reply_at"`
	LastUserMessageAt string    `json:"last_user_message_at"`
	LastOpenedAt      string    `json:"last_opened_at"`
	AdminNote         string    `json:"admin_note"`
	User              *MetaUser `json:"user"`
}

// The admin API wraps list responses in a JSON:API-flavored envelope:
// {"data":{"resource":{"data":[{"id","type","attributes"}...]},"pagy":{...}}}.
// The shapes below decode it strictly so a drifted upstream fails loudly
// instead of being optional-chained into an empty result.
type resourceItem struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Attributes RoomMeta `json:"attributes"`
}

type resourceBody struct {
	Data []resourceItem `json:"data"`
}

type listEnvelope struct {
	Data *struct {
		Resource *resourceBody `json:"resource"`
	} `json:"data"`
}
