// Package models defines messaging channel types shared across modules.
package models

// Response represents an incoming message from a patient on a chat channel
// (e.g. WhatsApp). Image is true when Body carries a base64-encoded photo
// rather than text.
type Response struct {
	From  string `json:"from"`
	Body  string `json:"body"`
	Image bool   `json:"image,omitempty"`
	Time  int64  `json:"time"`
}
