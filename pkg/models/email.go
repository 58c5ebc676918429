package models

import (
	"net"
	"strconv"
	"time"
)

// View is the coarse bucket a message is routed to
type View string

const (
	ViewImbox      View = "imbox"
	ViewFeed       View = "feed"
	ViewPaperTrail View = "paper_trail"
	ViewScreener   View = "screener"
)

// Category finer grained label assigned by the classifier
type Category string

const (
	CategoryImportant    Category = "important"
	CategoryNewsletter   Category = "newsletter"
	CategoryReceipt      Category = "receipt"
	CategoryConfirmation Category = "confirmation"
	CategoryScreenedOut  Category = "screened_out"
)

// ScreeningStatus how the message's sender has been screened
type ScreeningStatus string

const (
	ScreeningPending        ScreeningStatus = "pending"
	ScreeningAutoClassified ScreeningStatus = "auto_classified"
	ScreeningScreened       ScreeningStatus = "screened"
)

// Email represents a stored message. View is nil until the message is classified.
type Email struct {
	ID              int64           `db:"id" json:"id"`
	AccountID       int64           `db:"account_id" json:"accountId"`
	ExternalID      string          `db:"external_id" json:"externalId"` // Dedup key within the account
	ThreadID        string          `db:"thread_id" json:"threadId"`
	FromAddr        string          `db:"from_addr" json:"from"`
	FromName        string          `db:"from_name" json:"fromName"`
	Sender          string          `db:"sender" json:"sender"` // Lower-cased bare address
	ToAddrs         string          `db:"to_addrs" json:"to"`
	CcAddrs         string          `db:"cc_addrs" json:"cc"`
	Subject         string          `db:"subject" json:"subject"`
	BodyText        string          `db:"body_text" json:"bodyText"`
	BodyHTML        string          `db:"body_html" json:"-"`
	Folder          string          `db:"folder" json:"folder"`
	Size            int64           `db:"size" json:"size"`
	HasAttachments  bool            `db:"has_attachments" json:"hasAttachments"`
	View            *View           `db:"view" json:"view"`
	Category        *Category       `db:"category" json:"category"`
	Confidence      float64         `db:"confidence" json:"confidence"`
	ScreeningStatus ScreeningStatus `db:"screening_status" json:"screeningStatus"`
	IsRead          bool            `db:"is_read" json:"isRead"`
	IsStarred       bool            `db:"is_starred" json:"isStarred"`
	IsArchived      bool            `db:"is_archived" json:"isArchived"`
	ReceivedAt      time.Time       `db:"received_at" json:"receivedAt"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
