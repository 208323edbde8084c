package models

// TemplateSection pins one slice of the syllabus tree and how many
// questions the attempt pool draws from it. SectionID and SubsectionID
// narrow the scope when set.
type TemplateSection struct {
	PaperID       string `bson:"paper_id" json:"paper_id"`
	SectionID     string `bson:"section_id,omitempty" json:"section_id,omitempty"`
	SubsectionID  string `bson:"subsection_id,omitempty" json:"subsection_id,omitempty"`
	QuestionCount int    `bson:"question_count" json:"question_count"`
}

type TestTemplate struct {
	ID              string            `bson:"_id,omitempty" json:"id"`
	Name            string            `bson:"name" json:"name"`
	DurationMinutes int               `bson:"duration_minutes" json:"duration_minutes"`
	Adaptive        bool              `bson:"adaptive" json:"adaptive"`
	Strategy        string            `bson:"strategy,omitempty" json:"strategy,omitempty"`
	Sections        []TemplateSection `bson:"sections" json:"sections"`
}

// TotalQuestionCount sums the configured question counts across sections.
// For adaptive attempts without an explicit cap this sum becomes the
// max-questions limit.
func (t *TestTemplate) TotalQuestionCount() int {
	total := 0
	for _, s := range t.Sections {
		total += s.QuestionCount
	}
	return total
}
