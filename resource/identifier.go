package resource

import (
	"fmt"
	"strings"
)

// Standard resource type IDs.
const (
	RTCursor      uint16 = 1
	RTBitmap      uint16 = 2
	RTIcon        uint16 = 3
	RTString      uint16 = 6
	RTRCData      uint16 = 10
	RTGroupCursor uint16 = 12
	RTGroupIcon   uint16 = 14
	RTVersion     uint16 = 16
	RTManifest    uint16 = 24
)

// Identifier names a resource type or resource, either by string or by numeric ID.
type Identifier struct {
	Name string // set for named entries
	ID   uint16 // used if Name is empty
}

// ID returns a numeric identifier.
func ID(id uint16) Identifier {
	return Identifier{ID: id}
}

// Name returns a string identifier.
func Name(name string) Identifier {
	return Identifier{Name: name}
}

// IsName reports whether the identifier is a string.
func (i Identifier) IsName() bool {
	return i.Name != ""
}

func (i Identifier) String() string {
	if i.IsName() {
		return i.Name
	}
	return fmt.Sprintf("#%d", i.ID)
}

// less orders named entries before numeric ones, each ascending.
func (i Identifier) less(o Identifier) bool {
	if i.IsName() != o.IsName() {
		return i.IsName()
	}
	if i.IsName() {
		return strings.Compare(i.Name, o.Name) < 0
	}
	return i.ID < o.ID
}
