package models

// MasteryStatus is the learning state stored on a concept node.
// It only moves forward: locked, unlocked, mastered.
type MasteryStatus int

const (
	StatusLocked   MasteryStatus = 0
	StatusUnlocked MasteryStatus = 1
	StatusMastered MasteryStatus = 2
)

func (s MasteryStatus) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusUnlocked:
		return "unlocked"
	case StatusMastered:
		return "mastered"
	default:
		return "unknown"
	}
}

// ConceptNode is a graph node carrying a mastery status. ID is the Neo4j elementId.
type ConceptNode struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status MasteryStatus `json:"status"`
	Level  string        `json:"level,omitempty"`
	Labels []string      `json:"labels,omitempty"`
}

// ModuleProgress summarises quiz results for one content module.
type ModuleProgress struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Total    int    `json:"total"`
	Mastered int    `json:"mastered"`
}

// Completed reports whether every question of the module was answered correctly.
func (p ModuleProgress) Completed() bool {
	return p.Total > 0 && p.Mastered == p.Total
}
