// Package policy holds the per-user-level object caps for a map.
package policy

import "fmt"

type Level string

const (
	Standard Level = "standard"
	Gold     Level = "gold"
)

// Limits caps the number of objects on one map. Past ObjectsWarning an edit
// still goes through with a warning; past Objects it is refused.
type Limits struct {
	Objects        int `yaml:"objects"`
	ObjectsWarning int `yaml:"objects_warning"`
}

type Policy struct {
	Levels map[Level]Limits `yaml:"levels"`
}

func Default() Policy {
	return Policy{Levels: map[Level]Limits{
		Standard: {Objects: 10000, ObjectsWarning: 9000},
		Gold:     {Objects: 10000, ObjectsWarning: 9000},
	}}
}

// For returns the limits of a level; unknown levels get the standard limits.
func (p Policy) For(level Level) Limits {
	if l, ok := p.Levels[level]; ok {
		return l
	}
	return p.Levels[Standard]
}

func (p Policy) Validate() error {
	if _, ok := p.Levels[Standard]; !ok {
		return fmt.Errorf("policy: missing %q level", Standard)
	}
	for name, l := range p.Levels {
		if l.Objects <= 0 {
			return fmt.Errorf("policy %s: objects must be > 0", name)
		}
		if l.ObjectsWarning <= 0 || l.ObjectsWarning > l.Objects {
			return fmt.Errorf("policy %s: objects_warning must be in 1..objects", name)
		}
	}
	return nil
}

type Verdict int

const (
	Allow Verdict = iota
	Warn
	Refuse
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Refuse:
		return "refuse"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Check judges an edit that changes the object count of a map by net.
func (l Limits) Check(current, net int) Verdict {
	expected := current + net
	switch {
	case expected > l.Objects:
		return Refuse
	case expected > l.ObjectsWarning:
		return Warn
	}
	return Allow
}
