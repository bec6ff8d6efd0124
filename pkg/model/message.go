package model

import "time"

// DefaultCollection is the collection every chat message is written to.
const DefaultCollection = "Messages"

// Message is a stored chat document. ID and CreatedAt are assigned by the
// store at write time; clients never set them.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	UID       string    `json:"uid"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is the client-provided part of a message.
type NewMessage struct {
	Text string `json:"text"`
	UID  string `json:"uid"`
	URI  string `json:"uri"`
}
