package domain

import "time"

type PostKind string

const (
	KindGeneral      PostKind = "GENERAL"
	KindPrayer       PostKind = "PRAYER"
	KindTestimony    PostKind = "TESTIMONY"
	KindAnnouncement PostKind = "ANNOUNCEMENT"
)

type Author struct {
	ID        string `json:"userId"`
	Name      string `json:"userName"`
	AvatarURL string `json:"userProfilePicUrl,omitempty"`
}

// Post est une valeur immuable : toute modification produit une nouvelle Post.
type Post struct {
	ID string `json:"id"`
	Author
	Body       string    `json:"content"`
	MediaURLs  []string  `json:"mediaUrls"`
	MediaTypes []string  `json:"mediaTypes"`
	Kind       PostKind  `json:"postType"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	Likes     int `json:"likesCount"`
	Comments  int `json:"commentsCount"`
	Shares    int `json:"sharesCount"`
	Bookmarks int `json:"bookmarksCount"`

	LikedByViewer      bool `json:"isLikedByCurrentUser"`
	BookmarkedByViewer bool `json:"isBookmarkedByCurrentUser"`
}

type Counter int

const (
	CounterLikes Counter = iota
	CounterComments
	CounterShares
	CounterBookmarks
)

func (c Counter) String() string {
	switch c {
	case CounterLikes:
		return "likes"
	case CounterComments:
		return "comments"
	case CounterShares:
		return "shares"
	case CounterBookmarks:
		return "bookmarks"
	}
	return "unknown"
}

// Adjust renvoie une copie avec le compteur décalé de delta, borné à zéro.
func (p Post) Adjust(c Counter, delta int) Post {
	switch c {
	case CounterLikes:
		p.Likes = clamp(p.Likes + delta)
	case CounterComments:
		p.Comments = clamp(p.Comments + delta)
	case CounterShares:
		p.Shares = clamp(p.Shares + delta)
	case CounterBookmarks:
		p.Bookmarks = clamp(p.Bookmarks + delta)
	}
	return p
}

func (p Post) Count(c Counter) int {
	switch c {
	case CounterLikes:
		return p.Likes
	case CounterComments:
		return p.Comments
	case CounterShares:
		return p.Shares
	case CounterBookmarks:
		return p.Bookmarks
	}
	return 0
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
