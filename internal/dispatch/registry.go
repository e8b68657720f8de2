package dispatch

// registry returns the fixed metadata record for every agent kind, ordered
// by Kind for list_agents.
func registry() []Metadata {
	return []Metadata{
		{
			Kind:              KindCode,
			Name:              "Code",
			Description:       "Writes and edits source files to satisfy an objective.",
			Capabilities:      []string{"read_files", "write_files", "run_tests"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      `You are a precise software engineering agent. Produce minimal, correct changes. Respond as JSON {"summary": string, "insights": [string], "actions": [ { "type": "file_patch" | "file_write" | "message" | "command", ... } ] }.`,
		},
		{
			Kind:              KindTest,
			Name:              "Test",
			Description:       "Writes and runs tests against existing code.",
			Capabilities:      []string{"read_files", "write_files", "run_tests"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      `You are a testing agent. Write focused tests that exercise the objective's behavior and report gaps found, with structured JSON output matching {summary, insights, actions}.`,
		},
		{
			Kind:              KindDesign,
			Name:              "Design",
			Description:       "Proposes architecture and interface designs.",
			Capabilities:      []string{"read_files"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      "You are a software design agent. Propose a concrete design with tradeoffs, not prose essays. Respond with structured JSON including summary, insights, and actions.",
		},
		{
			Kind:              KindDebug,
			Name:              "Debug",
			Description:       "Diagnoses failures from logs, stack traces, and repro steps.",
			Capabilities:      []string{"read_files", "run_tests"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      "You are a debugging agent. Identify the root cause and the smallest fix, backed by evidence from the given context. Return JSON summary, insights, actions.",
		},
		{
			Kind:              KindSecurity,
			Name:              "Security",
			Description:       "Reviews code and configuration for security issues.",
			Capabilities:      []string{"read_files"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      `You are a security review agent. Flag concrete, exploitable issues; do not speculate about theoretical ones. Produce structured JSON {summary, insights, actions}.`,
		},
		{
			Kind:              KindDoc,
			Name:              "Doc",
			Description:       "Writes and updates documentation.",
			Capabilities:      []string{"read_files", "write_files"},
			DefaultModel:      "gpt-4o-mini",
			DefaultParameters: DefaultParameters(),
			SystemPrompt:      "You are a documentation agent. Write only what a reader needs; do not restate code that is already self-explanatory. Provide JSON with summary, insights, actions.",
		},
	}
}

func lookupMetadata(kind Kind) (Metadata, bool) {
	for _, m := range registry() {
		if m.Kind == kind {
			return m, true
		}
	}
	return Metadata{}, false
}
