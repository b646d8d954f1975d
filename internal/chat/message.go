package chat

// BlockType enumerates the renderable block kinds.
type BlockType string

const (
	BlockSection BlockType = "section"
	BlockContext BlockType = "context"
	BlockActions BlockType = "actions"
	BlockDivider BlockType = "divider"
)

// Message is a surface-neutral message: plain fallback text plus optional
// rich blocks. Adapters render blocks natively and fall back to Text.
type Message struct {
	Text   string
	Blocks []Block
}

// Block is one renderable unit.
type Block struct {
	Type    BlockType
	Text    string   // section body (markdown-ish)
	Lines   []string // context lines
	Buttons []Button // actions row
}

// Button is a clickable action.
type Button struct {
	ActionID string
	Label    string
	Value    string
	Style    string // "", "primary", "danger"
}

// NewMessage builds a plain-text message.
func NewMessage(text string) *Message {
	return &Message{Text: text}
}

// AddSection appends a text section and returns the message for chaining.
func (m *Message) AddSection(text string) *Message {
	m.Blocks = append(m.Blocks, Block{Type: BlockSection, Text: text})
	return m
}

// AddContext appends small-print context lines.
func (m *Message) AddContext(lines ...string) *Message {
	m.Blocks = append(m.Blocks, Block{Type: BlockContext, Lines: lines})
	return m
}

// AddActions appends a button row.
func (m *Message) AddActions(buttons ...Button) *Message {
	m.Blocks = append(m.Blocks, Block{Type: BlockActions, Buttons: buttons})
	return m
}

// AddDivider appends a divider.
func (m *Message) AddDivider() *Message {
	m.Blocks = append(m.Blocks, Block{Type: BlockDivider})
	return m
}

// InputType enumerates modal input kinds.
type InputType string

const (
	InputText      InputType = "text"
	InputMultiline InputType = "multiline"
	InputSelect    InputType = "select"
)

// Modal is a surface-neutral input dialog.
type Modal struct {
	CallbackID      string
	Title           string
	SubmitLabel     string
	PrivateMetadata string
	Inputs          []ModalInput
}

// ModalInput is one field in a modal.
type ModalInput struct {
	BlockID     string
	Label       string
	Type        InputType
	Required    bool
	Placeholder string
	Options     []SelectOption // select inputs only
}

// SelectOption is one choice in a select input.
type SelectOption struct {
	Value string
	Label string
}
