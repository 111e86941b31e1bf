package gemini

// DocumentInput is the input of a document_synthesis job.
type DocumentInput struct {
	Title        string            `json:"title"`
	TemplateIDs  []string          `json:"template_ids"`
	Instructions string            `json:"instructions,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// DocumentResult is the result of a document_synthesis job.
type DocumentResult struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	TemplateIDs []string `json:"template_ids"`
}

// AnalyticsInput is the input of an analytics_query job.
type AnalyticsInput struct {
	Question string   `json:"question"`
	Dataset  string   `json:"dataset,omitempty"`
	Agents   []string `json:"agents,omitempty"`
}

// Finding is one agent's contribution to an analytics answer.
type Finding struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
}

// AnalyticsResult is the result of an analytics_query job.
type AnalyticsResult struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Findings []Finding `json:"findings"`
}

// documentSchema is the JSON shape the model is asked to produce for a document.
type documentSchema struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// findingSchema is the JSON shape the model is asked to produce per agent.
type findingSchema struct {
	Summary string `json:"summary"`
}

// answerSchema is the JSON shape of the final synthesis step.
type answerSchema struct {
	Answer string `json:"answer"`
}
