package domain

import "time"

// Session keys one contiguous period of feed consumption. OpenedAt is set
// exactly once per session; RefreshNonce only ever grows. Both travel with
// every ranker request in the session.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	OpenedAt     time.Time `json:"session_opened_at"`
	RefreshNonce int64     `json:"refresh_nonce"`
}
