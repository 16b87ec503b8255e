package domain

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

type FeedKind string

const (
	FeedChronological FeedKind = "chronological"
	FeedFollowing     FeedKind = "following"
	FeedTrending      FeedKind = "trending"
)

func (k FeedKind) Valid() bool {
	switch k {
	case FeedChronological, FeedFollowing, FeedTrending:
		return true
	}
	return false
}

type FeedFilter string

const (
	FilterAll            FeedFilter = "ALL"
	FilterPrimaryOnly    FeedFilter = "PRIMARY_ONLY"
	FilterSelectedGroups FeedFilter = "SELECTED_GROUPS"
)

// FeedKey identifie un feed logiquement distinct : changer de filtre ou de
// contexte revient à changer de feed.
type FeedKey struct {
	Kind      FeedKind   `json:"kind"`
	Filter    FeedFilter `json:"filter"`
	GroupIDs  []string   `json:"groupIds,omitempty"`
	ContextID string     `json:"contextId,omitempty"`
}

// Normalize trie et dédoublonne les groupes (la portée est un ensemble).
func (k FeedKey) Normalize() FeedKey {
	if k.Filter == "" {
		k.Filter = FilterAll
	}
	if len(k.GroupIDs) == 0 {
		k.GroupIDs = nil
		return k
	}
	ids := slices.DeleteFunc(slices.Clone(k.GroupIDs), func(id string) bool { return id == "" })
	if len(ids) == 0 {
		k.GroupIDs = nil
		return k
	}
	slices.Sort(ids)
	k.GroupIDs = slices.Compact(ids)
	return k
}

func (k FeedKey) Equal(o FeedKey) bool {
	return k.String() == o.String()
}

// String est l'encodage canonique, utilisé comme clé de cache. Chaque
// composant est échappé : "|" et "," n'y apparaissent que comme séparateurs.
func (k FeedKey) String() string {
	n := k.Normalize()
	groups := make([]string, len(n.GroupIDs))
	for i, g := range n.GroupIDs {
		groups[i] = url.QueryEscape(g)
	}
	return strings.Join([]string{
		url.QueryEscape(string(n.Kind)),
		url.QueryEscape(string(n.Filter)),
		strings.Join(groups, ","),
		url.QueryEscape(n.ContextID),
	}, "|")
}

func (k FeedKey) IsZero() bool {
	return k.Kind == ""
}

// Page est le résultat d'un appel au Paged Fetch Client.
type Page struct {
	Items         []Post
	IsLastPage    bool
	TotalElements int
}

type Cursor struct {
	Page          int  `json:"page"`
	IsLastPage    bool `json:"isLastPage"`
	IsLoadingMore bool `json:"isLoadingMore"`
}

type CacheEntry struct {
	Key       string    `json:"key"`
	Posts     []Post    `json:"posts"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}
