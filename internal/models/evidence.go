package models

// Evidence is the graph context gathered around one focus node for a question.
type Evidence struct {
	Focus        string   `json:"focus"`
	Concepts     []string `json:"concepts,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Tasks        []string `json:"tasks,omitempty"`
	Competencies []string `json:"competencies,omitempty"`
}

// Empty reports whether the evidence carries no usable text.
func (e Evidence) Empty() bool {
	return e.Focus == "" && len(e.Concepts) == 0 && len(e.Skills) == 0 &&
		len(e.Tasks) == 0 && len(e.Competencies) == 0
}
