package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

var ErrMalformedEvent = errors.New("malformed event")

// Subject renvoie le sujet NATS d'une famille : {prefix}.{family}.
func Subject(prefix string, family domain.EventFamily) string {
	return prefix + "." + string(family)
}

func familyOf(prefix, subject string) (domain.EventFamily, bool) {
	name, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", false
	}
	for _, f := range domain.Families {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// Decode valide la charge utile d'une famille donnée.
func Decode(family domain.EventFamily, data []byte) (domain.Event, error) {
	switch family {
	case domain.FamilyLifecycle:
		var ev domain.LifecycleEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		switch ev.Type {
		case domain.PostCreated:
			if ev.Post == nil || ev.Post.ID == "" {
				return nil, fmt.Errorf("%w: created event without post", ErrMalformedEvent)
			}
		case domain.PostDeleted:
		default:
			return nil, fmt.Errorf("%w: lifecycle type %q", ErrMalformedEvent, ev.Type)
		}
		ev.PostID = ev.TargetID()
		if ev.PostID == "" {
			return nil, fmt.Errorf("%w: missing post id", ErrMalformedEvent)
		}
		return ev, nil

	case domain.FamilyInteraction:
		var ev domain.InteractionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if _, _, ok := ev.Delta(); !ok {
			return nil, fmt.Errorf("%w: interaction type %q", ErrMalformedEvent, ev.Type)
		}
		if ev.PostID == "" {
			return nil, fmt.Errorf("%w: missing post id", ErrMalformedEvent)
		}
		return ev, nil

	case domain.FamilyComment:
		var ev domain.CommentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		switch ev.Type {
		case domain.CommentCreated, domain.CommentDeleted, domain.CommentUpdated:
		default:
			return nil, fmt.Errorf("%w: comment type %q", ErrMalformedEvent, ev.Type)
		}
		if ev.PostID == "" {
			return nil, fmt.Errorf("%w: missing post id", ErrMalformedEvent)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: unknown family %q", ErrMalformedEvent, family)
}
