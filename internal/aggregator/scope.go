package aggregator

import "fmt"

// ScopeKind selects which subset of the graph a template is built for.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeType
	ScopeEntity
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeType:
		return "type"
	case ScopeEntity:
		return "entity"
	default:
		return "unknown"
	}
}

// Scope is the target of a template build. ID is the type's object ID or
// the entity's subject ID; it is zero for the global scope.
type Scope struct {
	Kind ScopeKind
	ID   uint64
	URI  string
}

func Global() Scope { return Scope{Kind: ScopeGlobal} }

func ForType(id uint64, uri string) Scope { return Scope{Kind: ScopeType, ID: id, URI: uri} }

func ForEntity(id uint64, uri string) Scope { return Scope{Kind: ScopeEntity, ID: id, URI: uri} }

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return "global"
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.URI)
}
