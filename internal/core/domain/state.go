package domain

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLoading     Phase = "loading"
	PhaseDisplaying  Phase = "displaying"
	PhaseLoadingMore Phase = "loading_more"
	PhaseError       Phase = "error"
)

// Snapshot est la vue en lecture seule exposée à la présentation.
type Snapshot struct {
	Key            FeedKey `json:"key"`
	Posts          []Post  `json:"posts"`
	Phase          Phase   `json:"phase"`
	Cursor         Cursor  `json:"cursor"`
	Loading        bool    `json:"loading"`
	LoadingMore    bool    `json:"loadingMore"`
	Syncing        bool    `json:"syncing"`
	FromCache      bool    `json:"fromCache"`
	HasUnseenNewer bool    `json:"hasUnseenNewer"`
	Error          string  `json:"error,omitempty"`
	Version        uint64  `json:"version"`
}

type MutationKind string

const (
	MutationLike       MutationKind = "like"
	MutationUnlike     MutationKind = "unlike"
	MutationBookmark   MutationKind = "bookmark"
	MutationUnbookmark MutationKind = "unbookmark"
	MutationDelete     MutationKind = "delete"
)

func (k MutationKind) Valid() bool {
	switch k {
	case MutationLike, MutationUnlike, MutationBookmark, MutationUnbookmark, MutationDelete:
		return true
	}
	return false
}

// Interaction renvoie le type d'événement push que le serveur renvoie en écho.
func (k MutationKind) Interaction() (InteractionType, bool) {
	switch k {
	case MutationLike:
		return InteractionLike, true
	case MutationUnlike:
		return InteractionUnlike, true
	case MutationBookmark:
		return InteractionBookmark, true
	case MutationUnbookmark:
		return InteractionUnbookmark, true
	}
	return "", false
}
