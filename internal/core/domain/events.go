package domain

type EventFamily string

const (
	FamilyLifecycle   EventFamily = "lifecycle"
	FamilyInteraction EventFamily = "interactions"
	FamilyComment     EventFamily = "comments"
)

var Families = []EventFamily{FamilyLifecycle, FamilyInteraction, FamilyComment}

// Event est un événement push, discriminé par sa famille.
type Event interface {
	Family() EventFamily
	TargetID() string
}

type LifecycleType string

const (
	PostCreated LifecycleType = "created"
	PostDeleted LifecycleType = "deleted"
)

type LifecycleEvent struct {
	Type   LifecycleType `json:"type"`
	Post   *Post         `json:"post,omitempty"`
	PostID string        `json:"post_id,omitempty"`
}

func (LifecycleEvent) Family() EventFamily { return FamilyLifecycle }

func (e LifecycleEvent) TargetID() string {
	if e.Post != nil && e.Post.ID != "" {
		return e.Post.ID
	}
	return e.PostID
}

type InteractionType string

const (
	InteractionLike       InteractionType = "like"
	InteractionUnlike     InteractionType = "unlike"
	InteractionComment    InteractionType = "comment"
	InteractionShare      InteractionType = "share"
	InteractionBookmark   InteractionType = "bookmark"
	InteractionUnbookmark InteractionType = "unbookmark"
)

type InteractionEvent struct {
	Type    InteractionType `json:"type"`
	PostID  string          `json:"post_id"`
	ActorID string          `json:"actor_id,omitempty"`
	// MutationID est renseigné quand l'interaction vient d'une mutation locale confirmée.
	MutationID string `json:"mutation_id,omitempty"`
	// Synthetic marque les deltas déduits par le polling de secours.
	Synthetic bool `json:"-"`
}

func (InteractionEvent) Family() EventFamily { return FamilyInteraction }
func (e InteractionEvent) TargetID() string  { return e.PostID }

// Delta renvoie le compteur touché et l'ajustement signé.
func (e InteractionEvent) Delta() (Counter, int, bool) {
	switch e.Type {
	case InteractionLike:
		return CounterLikes, 1, true
	case InteractionUnlike:
		return CounterLikes, -1, true
	case InteractionComment:
		return CounterComments, 1, true
	case InteractionShare:
		return CounterShares, 1, true
	case InteractionBookmark:
		return CounterBookmarks, 1, true
	case InteractionUnbookmark:
		return CounterBookmarks, -1, true
	}
	return 0, 0, false
}

type CommentType string

const (
	CommentCreated CommentType = "created"
	CommentDeleted CommentType = "deleted"
	CommentUpdated CommentType = "updated"
)

type CommentEvent struct {
	Type      CommentType `json:"type"`
	PostID    string      `json:"post_id"`
	CommentID string      `json:"comment_id,omitempty"`
}

func (CommentEvent) Family() EventFamily { return FamilyComment }
func (e CommentEvent) TargetID() string  { return e.PostID }

// Delta : seuls created/deleted touchent le compteur, updated est neutre.
func (e CommentEvent) Delta() int {
	switch e.Type {
	case CommentCreated:
		return 1
	case CommentDeleted:
		return -1
	}
	return 0
}
