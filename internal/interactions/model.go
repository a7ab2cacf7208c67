package interactions

import (
	"errors"
	"fmt"
	"strings"
)

// Op enumerates the supported user interaction operations.
type Op string

const (
	// OpLike records a like on a couplet.
	OpLike Op = "like"
	// OpUnlike removes a previously recorded like.
	OpUnlike Op = "unlike"
	// OpBookmark records a bookmark on a couplet.
	OpBookmark Op = "bookmark"
	// OpUnbookmark removes a previously recorded bookmark.
	OpUnbookmark Op = "unbookmark"
)

// EntityType identifies the kind of content an interaction targets.
type EntityType string

// EntityTypeCouplet is the only entity type interactions currently target.
const EntityTypeCouplet EntityType = "couplet"

const maxIdentifierLength = 190

var (
	// ErrInvalidOp indicates an unrecognized operation value.
	ErrInvalidOp = errors.New("interactions: invalid operation")
	// ErrInvalidEntityType indicates an unrecognized entity type.
	ErrInvalidEntityType = errors.New("interactions: invalid entity type")
	// ErrInvalidEntityKey indicates an entity key that does not split into
	// a couplet id and user id.
	ErrInvalidEntityKey = errors.New("interactions: invalid entity key")
)

// ParseOp validates raw input and returns an Op.
func ParseOp(value string) (Op, error) {
	switch Op(strings.ToLower(strings.TrimSpace(value))) {
	case OpLike:
		return OpLike, nil
	case OpUnlike:
		return OpUnlike, nil
	case OpBookmark:
		return OpBookmark, nil
	case OpUnbookmark:
		return OpUnbookmark, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOp, value)
	}
}

// ParseEntityType validates raw input and returns an EntityType.
func ParseEntityType(value string) (EntityType, error) {
	if EntityType(strings.TrimSpace(value)) == EntityTypeCouplet {
		return EntityTypeCouplet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, value)
}

// Adds reports whether the operation creates a record; the remaining
// operations remove one.
func (o Op) Adds() bool {
	return o == OpLike || o == OpBookmark
}

// Relation returns the relation table family the operation acts on.
func (o Op) Relation() Relation {
	if o == OpLike || o == OpUnlike {
		return RelationLike
	}
	return RelationBookmark
}

// Relation distinguishes the two interaction record families.
type Relation string

const (
	// RelationLike selects the like records.
	RelationLike Relation = "like"
	// RelationBookmark selects the bookmark records.
	RelationBookmark Relation = "bookmark"
)

// EntityKey is a validated composite "<coupletID>:<userID>" identifier.
type EntityKey struct {
	coupletID string
	userID    string
}

// NewEntityKey validates the raw composite value and returns an EntityKey.
func NewEntityKey(raw string) (EntityKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntityKey{}, fmt.Errorf("%w: empty", ErrInvalidEntityKey)
	}
	if len(trimmed) > 2*maxIdentifierLength+1 {
		return EntityKey{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityKey, 2*maxIdentifierLength+1)
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 {
		return EntityKey{}, fmt.Errorf("%w: expected exactly one separator", ErrInvalidEntityKey)
	}
	coupletID := strings.TrimSpace(parts[0])
	userID := strings.TrimSpace(parts[1])
	if coupletID == "" || userID == "" {
		return EntityKey{}, fmt.Errorf("%w: empty segment", ErrInvalidEntityKey)
	}
	return EntityKey{coupletID: coupletID, userID: userID}, nil
}

// JoinEntityKey builds an EntityKey from its two segments.
func JoinEntityKey(coupletID, userID string) (EntityKey, error) {
	return NewEntityKey(coupletID + ":" + userID)
}

// CoupletID returns the couplet segment of the key.
func (k EntityKey) CoupletID() string {
	return k.coupletID
}

// UserID returns the user segment of the key.
func (k EntityKey) UserID() string {
	return k.userID
}

// String returns the composite wire form of the key.
func (k EntityKey) String() string {
	return k.coupletID + ":" + k.userID
}

// Mutation is a single queued user intent, produced at enqueue time and
// carried unchanged to the batch-apply endpoint except for Attempts.
type Mutation struct {
	ID         string     `json:"id"`
	Op         Op         `json:"op"`
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	TsMillis   int64      `json:"ts"`
	Attempts   int        `json:"attempts"`
}

// LikeRecord is one active like, unique per user per couplet.
type LikeRecord struct {
	EntityID         string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	EntityType       string `gorm:"column:entity_type;primaryKey;size:32;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LikeRecord) TableName() string {
	return "couplet_likes"
}

// BookmarkRecord is one active bookmark, unique per user per couplet.
type BookmarkRecord struct {
	EntityID         string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	EntityType       string `gorm:"column:entity_type;primaryKey;size:32;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BookmarkRecord) TableName() string {
	return "couplet_bookmarks"
}

// Couplet is the minimal catalog row batch apply resolves targets against.
// The slug doubles as the cache tag for pages rendering the couplet.
type Couplet struct {
	CoupletID   string `gorm:"column:couplet_id;primaryKey;size:190;not null"`
	Slug        string `gorm:"column:slug;size:190;not null;uniqueIndex:idx_couplets_slug"`
	TextSindhi  string `gorm:"column:text_sd;type:text;not null"`
	TextEnglish string `gorm:"column:text_en;type:text;not null"`
	PoetName    string `gorm:"column:poet_name;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Couplet) TableName() string {
	return "couplets"
}
