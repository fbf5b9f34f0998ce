package envelope

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
)

// TestActorID is the sentinel identity used by synthetic traffic. It never
// produces an actor reference.
const TestActorID = "test-actor"

type actorKind uint8

const (
	actorSystem actorKind = iota
	actorRef
	actorID
	actorTest
)

// ActorInput is the raw actor supplied by a caller: nothing, a bare id, a
// full reference or the test sentinel. It is resolved exactly once by Resolve.
type ActorInput struct {
	kind actorKind
	ref  audit.ActorRef
	id   string
}

func SystemActor() ActorInput { return ActorInput{} }

func TestActor() ActorInput { return ActorInput{kind: actorTest} }

func ActorFromRef(ref audit.ActorRef) ActorInput {
	return ActorInput{kind: actorRef, ref: ref}
}

func ActorFromID(id string) ActorInput {
	return ActorInput{kind: actorID, id: id}
}

// Resolve returns the canonical reference, or nil for system and test actors.
func (a ActorInput) Resolve() *audit.ActorRef {
	switch a.kind {
	case actorRef:
		if a.ref.UserID == TestActorID {
			return nil
		}
		if strings.TrimSpace(a.ref.UserID) == "" {
			if a.ref.Username == "" && a.ref.Email == "" {
				return nil
			}
		}
		ref := a.ref
		return &ref
	case actorID:
		id := strings.TrimSpace(a.id)
		if id == "" || id == TestActorID {
			return nil
		}
		return &audit.ActorRef{UserID: id}
	default:
		return nil
	}
}

// UnmarshalJSON accepts null, a string id or an actor object.
func (a *ActorInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = SystemActor()
		return nil
	case data[0] == '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = ActorFromID(id)
		return nil
	default:
		var ref audit.ActorRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return &audit.ValidationError{Field: "actor", Message: "must be an id or an actor object"}
		}
		*a = ActorFromRef(ref)
		return nil
	}
}

// ResourceInput is a resource given either as a "type:id" string or as parts.
type ResourceInput struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	raw  string
}

func ResourceFromString(s string) ResourceInput { return ResourceInput{raw: s} }

func Resource(typ, id string) ResourceInput { return ResourceInput{Type: typ, ID: id} }

// Canonical returns the "type:id" form, or "" when nothing was supplied.
func (r ResourceInput) Canonical() string {
	if r.raw != "" {
		return strings.TrimSpace(r.raw)
	}
	switch {
	case r.Type != "" && r.ID != "":
		return r.Type + ":" + r.ID
	case r.Type != "":
		return r.Type
	default:
		return r.ID
	}
}

// UnmarshalJSON accepts null, a string or a {type,id,name} object.
func (r *ResourceInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = ResourceInput{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ResourceFromString(s)
		return nil
	default:
		type plain ResourceInput
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return &audit.ValidationError{Field: "resource", Message: "must be a string or a {type,id} object"}
		}
		*r = ResourceInput(p)
		return nil
	}
}
