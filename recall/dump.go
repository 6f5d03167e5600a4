package recall

import (
	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          false,
	SortKeys:                true,
}

type node struct {
	Kind     string
	UID      string
	State    State
	Flags    Flags
	RecallID string
	Children []node
}

// Dump returns readable tree of unit and its children.
func Dump(u Unit) string {
	return dumpConfig.Sdump(dumpNode(u))
}

func dumpNode(u Unit) node {
	b := u.Base()
	n := node{
		Kind:     b.Kind(),
		UID:      b.UID(),
		State:    b.State(),
		Flags:    b.Flags(),
		RecallID: b.RecallID().String(),
	}
	for _, child := range b.Children() {
		n.Children = append(n.Children, dumpNode(child))
	}
	return n
}
