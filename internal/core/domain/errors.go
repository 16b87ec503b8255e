package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPageRequest = errors.New("invalid page request")
	ErrChannelUnavailable = errors.New("push channel unavailable")
	ErrStaleReference     = errors.New("post not in canonical list")
	ErrPostNotFound       = errors.New("post not found")
	ErrNoActiveFeed       = errors.New("no active feed")
	ErrInvalidFeedKey     = errors.New("invalid feed key")
)

// FetchError : échec réseau ou serveur pendant un fetch de page.
type FetchError struct {
	Key    string
	Page   int
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s page %d: status %d", e.Key, e.Page, e.Status)
	}
	return fmt.Sprintf("fetch %s page %d: %v", e.Key, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError : action optimiste rejetée, déjà annulée localement.
type MutationError struct {
	PostID string
	Kind   MutationKind
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s on post %s rejected: %v", e.Kind, e.PostID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
