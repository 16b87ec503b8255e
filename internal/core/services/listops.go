package services

import "github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"

// Toutes les opérations allouent une nouvelle slice : la liste précédente
// reste valide pour les snapshots déjà publiés.

func indexOf(posts []domain.Post, id string) int {
	for i := range posts {
		if posts[i].ID == id {
			return i
		}
	}
	return -1
}

// dedupe garde la première occurrence de chaque id.
func dedupe(posts []domain.Post) []domain.Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func prepend(posts []domain.Post, p domain.Post) []domain.Post {
	out := make([]domain.Post, 0, len(posts)+1)
	out = append(out, p)
	return append(out, posts...)
}

func replaceAt(posts []domain.Post, i int, p domain.Post) []domain.Post {
	out := make([]domain.Post, len(posts))
	copy(out, posts)
	out[i] = p
	return out
}

func removeAt(posts []domain.Post, i int) []domain.Post {
	out := make([]domain.Post, 0, len(posts)-1)
	out = append(out, posts[:i]...)
	return append(out, posts[i+1:]...)
}

func insertAt(posts []domain.Post, i int, p domain.Post) []domain.Post {
	if i < 0 {
		i = 0
	}
	if i > len(posts) {
		i = len(posts)
	}
	out := make([]domain.Post, 0, len(posts)+1)
	out = append(out, posts[:i]...)
	out = append(out, p)
	return append(out, posts[i:]...)
}

// mergePage : les ids connus sont remplacés sur place, les nouveaux ajoutés
// à la fin dans l'ordre serveur. skip filtre les posts supprimés entre-temps.
func mergePage(posts, incoming []domain.Post, skip func(id string) bool) []domain.Post {
	pos := make(map[string]int, len(posts))
	for i, p := range posts {
		pos[p.ID] = i
	}
	out := make([]domain.Post, len(posts), len(posts)+len(incoming))
	copy(out, posts)
	for _, p := range incoming {
		if skip != nil && skip(p.ID) {
			continue
		}
		if i, ok := pos[p.ID]; ok {
			out[i] = p
			continue
		}
		pos[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}
