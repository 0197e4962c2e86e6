package permissions

// Ability is the computed set of granted (action, section) pairs for one
// request. It is immutable once returned from Service.Check.
type Ability struct {
	granted map[Rule]struct{}
}

func newAbility() *Ability {
	return &Ability{granted: make(map[Rule]struct{})}
}

// NewAbility builds an ability from an explicit grant list
func NewAbility(granted []Rule) *Ability {
	a := newAbility()
	for _, r := range granted {
		a.grant(r.Action, r.Section)
	}
	return a
}

func (a *Ability) grant(action Action, section Section) {
	a.granted[Rule{Action: action, Section: section}] = struct{}{}
}

// Can reports whether the pair was explicitly granted during evaluation
func (a *Ability) Can(action Action, section Section) bool {
	_, ok := a.granted[Rule{Action: action, Section: section}]
	return ok
}

// FirstDenied returns the first rule in order that the ability does not
// grant, or nil when every rule is granted
func (a *Ability) FirstDenied(rules []Rule) *Rule {
	for i := range rules {
		if !a.Can(rules[i].Action, rules[i].Section) {
			return &rules[i]
		}
	}
	return nil
}
