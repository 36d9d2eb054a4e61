package models

import "time"

// Registration is the authoritative record of one attendee. It is created once
// by the allocation transaction and never edited afterwards.
type Registration struct {
	RegID        string    `json:"reg_id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	College      string    `json:"college"`
	QRText       string    `json:"qr_text"`
	UID          string    `json:"uid"`
	AuthProvider string    `json:"auth_provider"`
	Serial       int       `json:"serial"`
	CreatedAt    time.Time `json:"created_at"`
}

// Counter is the singleton allocator state that supplies the next serial.
type Counter struct {
	ID         string    `json:"id"`
	Prefix     string    `json:"prefix"`
	NextSerial int       `json:"next_serial"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LocalPassRecord is the client-side cached copy of the last known pass.
// It is not authoritative and may outlive the remote registration.
type LocalPassRecord struct {
	Registration Registration `json:"registration"`
	SavedAt      time.Time    `json:"saved_at"`
}
