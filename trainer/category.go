package trainer

import (
	"fmt"
	"strings"
)

// Category groups call sites by what the random value is used for
type Category uint8

const (
	Unknown Category = iota
	DoNotTamper
	BirdPathing
	Rarity
	Drafting
	Items
	DogSwapper
	Trading
	Derigiblock
	SlotMachine

	NumCategories = int(SlotMachine) + 1
)

var categoryNames = [...]string{
	"Unknown",
	"DoNotTamper",
	"BirdPathing",
	"Rarity",
	"Drafting",
	"Items",
	"DogSwapper",
	"Trading",
	"Derigiblock",
	"SlotMachine",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

func (c Category) Valid() bool {
	return int(c) < NumCategories
}

// Categories lists every category in table order
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// ParseCategory accepts a category name in any case
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrCategory)
}

// Behavior selects how a category's seed produces values
type Behavior uint8

const (
	// Constant returns the seed every time
	Constant Behavior = iota
	// Increment returns the seed and then advances it by one
	Increment
	// Randomize returns the seed and then replaces it with a hash of itself
	Randomize

	numBehaviors = int(Randomize) + 1
)

var behaviorNames = [...]string{"Constant", "Increment", "Randomize"}

func (b Behavior) String() string {
	if int(b) < len(behaviorNames) {
		return behaviorNames[b]
	}
	return fmt.Sprintf("Behavior(%d)", uint8(b))
}

func (b Behavior) Valid() bool {
	return int(b) < numBehaviors
}

func ParseBehavior(s string) (Behavior, error) {
	for i, name := range behaviorNames {
		if strings.EqualFold(name, s) {
			return Behavior(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrBehavior)
}

// Kind is the random API a call site goes through
type Kind uint8

const (
	// KindValue is Random.value, a float in [0, 1]
	KindValue Kind = iota
	// KindIntRange is Random.Range(int, int), an int in [min, max)
	KindIntRange
	// KindFloatRange is Random.Range(float, float), a float in [min, max]
	KindFloatRange

	numKinds = int(KindFloatRange) + 1
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindIntRange:
		return "range_int"
	case KindFloatRange:
		return "range_float"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}
