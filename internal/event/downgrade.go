package event

import "reflect"

// downgradeSet maps an ancestor type identity to the projection
// function producing an owned value of that ancestor type from a
// descendant event. One set is registered per leaf type.
type downgradeSet map[reflect.Type]func(Event) Event

var downgradeTables = map[reflect.Type]downgradeSet{}

// registerDowngrades installs the ancestor projection table for one
// concrete event type. Called from each leaf type's init.
func registerDowngrades(leaf reflect.Type, set downgradeSet) {
	downgradeTables[leaf] = set
}

// Downgrade projects e to the ancestor type identified by target.
// Identity (e's own concrete type) returns e unchanged. Returns
// ok=false if target is not e's type or an ancestor of it.
func Downgrade(e Event, target reflect.Type) (Event, bool) {
	leaf := reflect.TypeOf(e)
	if leaf == target {
		return e, true
	}
	set, ok := downgradeTables[leaf]
	if !ok {
		return nil, false
	}
	fn, ok := set[target]
	if !ok {
		return nil, false
	}
	return fn(e), true
}
