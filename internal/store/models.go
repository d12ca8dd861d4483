package store

import "time"

type Profile struct {
	ID               string
	DisplayName      string
	Email            string
	Role             string
	StudentType      string
	Branch           string
	Credits          int
	NegativeLifetime int
	BannedFromRaise  bool
	HandlesExclusive bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Concern struct {
	ID                string
	Title             string
	Description       string
	Category          string
	StudentID         string
	StudentType       string
	Branch            string
	Program           *string
	Status            string
	AssignedStaffID   *string
	AssignedTrainerID *string
	Anonymous         bool
	IdentityRevealed  bool
	AttachmentRef     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ResolvedAt        *time.Time
}

type Review struct {
	ID           string
	ConcernID    string
	ReviewerID   string
	ReviewerRole string
	Rating       int
	Comment      string
	IsSystem     bool
	CreatedAt    time.Time
}

type CreditAward struct {
	ID        int64
	ConcernID string
	Role      string
	Awarded   int
	CreatedAt time.Time
}

type NegativeEvent struct {
	ID           int64
	ConcernID    string
	TargetUserID string
	CreatedAt    time.Time
}

type IdentityReveal struct {
	ID         int64
	ConcernID  string
	RevealedBy string
	CreatedAt  time.Time
}

type Conversation struct {
	ID        string
	ConcernID *string
	Type      string
	Branch    string
	IsClosed  bool
	CreatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
}

// ConcernFilter narrows ListConcerns. Zero values mean "no filter".
type ConcernFilter struct {
	Branch    string
	Status    string
	StudentID string
	Category  string
	Limit     int
}
