package chat

// Modal callback IDs.
const (
	CallbackIncorrectFeedback = "feedback_incorrect_modal"
	CallbackOutdatedFeedback  = "feedback_outdated_modal"
	CallbackConfusingFeedback = "feedback_confusing_modal"
	CallbackCreateDoc         = "create_doc_modal"
)

// IncorrectFeedbackModal asks what is wrong and how the user knows.
// PrivateMetadata carries the feedback routing context opaquely.
func IncorrectFeedbackModal(metadata string) *Modal {
	return &Modal{
		CallbackID:      CallbackIncorrectFeedback,
		Title:           "Report Incorrect Info",
		SubmitLabel:     "Submit",
		PrivateMetadata: metadata,
		Inputs: []ModalInput{
			{
				BlockID:     "what_incorrect",
				Label:       "What is incorrect?",
				Type:        InputMultiline,
				Required:    true,
				Placeholder: "Quote the part that is wrong",
			},
			{
				BlockID:     "correct_information",
				Label:       "What is the correct information?",
				Type:        InputMultiline,
				Placeholder: "If you know it, share the correct version",
			},
			{
				BlockID: "evidence",
				Label:   "How do you know?",
				Type:    InputSelect,
				Options: []SelectOption{
					{Value: "official_docs", Label: "Official documentation"},
					{Value: "tested_myself", Label: "I tested it myself"},
					{Value: "colleague_told_me", Label: "A colleague told me"},
					{Value: "other", Label: "Other"},
				},
			},
		},
	}
}

// OutdatedFeedbackModal asks what changed and when.
func OutdatedFeedbackModal(metadata string) *Modal {
	return &Modal{
		CallbackID:      CallbackOutdatedFeedback,
		Title:           "Report Outdated Info",
		SubmitLabel:     "Submit",
		PrivateMetadata: metadata,
		Inputs: []ModalInput{
			{
				BlockID:     "what_outdated",
				Label:       "What is outdated?",
				Type:        InputMultiline,
				Required:    true,
				Placeholder: "Which part no longer applies?",
			},
			{
				BlockID:     "current_information",
				Label:       "What is current?",
				Type:        InputMultiline,
				Placeholder: "Describe the current state if you know it",
			},
			{
				BlockID:     "when_changed",
				Label:       "When did it change?",
				Type:        InputText,
				Placeholder: "e.g. last month, after the v2 migration",
			},
		},
	}
}

// ConfusingFeedbackModal asks what kind of confusion and what would help.
func ConfusingFeedbackModal(metadata string) *Modal {
	return &Modal{
		CallbackID:      CallbackConfusingFeedback,
		Title:           "Report Confusing Info",
		SubmitLabel:     "Submit",
		PrivateMetadata: metadata,
		Inputs: []ModalInput{
			{
				BlockID:  "confusion_type",
				Label:    "What kind of confusion?",
				Type:     InputSelect,
				Required: true,
				Options: []SelectOption{
					{Value: "unclear", Label: "Unclear wording"},
					{Value: "too_technical", Label: "Too technical"},
					{Value: "missing_context", Label: "Missing context"},
					{Value: "contradictory", Label: "Contradicts other docs"},
					{Value: "other", Label: "Other"},
				},
			},
			{
				BlockID:     "clarification_needed",
				Label:       "What would make it clearer?",
				Type:        InputMultiline,
				Placeholder: "Optional",
			},
		},
	}
}

// CreateDocModal collects a new knowledge document authored in chat.
func CreateDocModal(metadata string) *Modal {
	return &Modal{
		CallbackID:      CallbackCreateDoc,
		Title:           "Create Document",
		SubmitLabel:     "Create",
		PrivateMetadata: metadata,
		Inputs: []ModalInput{
			{
				BlockID:  "area",
				Label:    "Area",
				Type:     InputSelect,
				Required: true,
				Options: []SelectOption{
					{Value: "engineering", Label: "Engineering"},
					{Value: "operations", Label: "Operations"},
					{Value: "product", Label: "Product"},
					{Value: "general", Label: "General"},
				},
			},
			{
				BlockID:  "doc_type",
				Label:    "Document type",
				Type:     InputSelect,
				Required: true,
				Options: []SelectOption{
					{Value: "runbook", Label: "Runbook"},
					{Value: "guide", Label: "Guide"},
					{Value: "faq", Label: "FAQ"},
					{Value: "decision", Label: "Decision record"},
				},
			},
			{
				BlockID:  "classification",
				Label:    "Classification",
				Type:     InputSelect,
				Required: true,
				Options: []SelectOption{
					{Value: "public", Label: "Public"},
					{Value: "internal", Label: "Internal"},
					{Value: "confidential", Label: "Confidential"},
				},
			},
			{
				BlockID:  "title",
				Label:    "Title",
				Type:     InputText,
				Required: true,
			},
			{
				BlockID:  "content",
				Label:    "Content",
				Type:     InputMultiline,
				Required: true,
			},
		},
	}
}
