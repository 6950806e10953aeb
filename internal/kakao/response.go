package kakao

// Version is the skill response schema version the platform expects.
const Version = "2.0"

// Response is the outbound skill payload, for both the synchronous answer
// and the deferred callback POST.
type Response struct {
	Version     string            `json:"version"`
	Template    *Template         `json:"template,omitempty"`
	UseCallback bool              `json:"useCallback,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Extra       *Extra            `json:"extra,omitempty"`
}

// Template wraps the response outputs; the platform renders at most three.
type Template struct {
	Outputs []Output `json:"outputs"`
}

// Output is one rendered card. Exactly one field is set.
type Output struct {
	SimpleText *SimpleText `json:"simpleText,omitempty"`
	TextCard   *TextCard   `json:"textCard,omitempty"`
	ItemCard   *ItemCard   `json:"itemCard,omitempty"`
}

type SimpleText struct {
	Text string `json:"text"`
}

type TextCard struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Buttons     []Button `json:"buttons,omitempty"`
}

type ItemCard struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Profile         *Profile `json:"profile,omitempty"`
	ItemList        []Item   `json:"itemList"`
	ItemListSummary *Item    `json:"itemListSummary,omitempty"`
	Buttons         []Button `json:"buttons,omitempty"`
	ButtonLayout    string   `json:"buttonLayout,omitempty"`
}

type Profile struct {
	Title    string `json:"title"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Item struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Button either jumps to a block (round-tripping Extra back through
// clientExtra) or opens a web link.
type Button struct {
	Label      string       `json:"label"`
	Action     string       `json:"action"`
	BlockID    string       `json:"blockId,omitempty"`
	WebLinkURL string       `json:"webLinkUrl,omitempty"`
	Extra      *ClientExtra `json:"extra,omitempty"`
}

// Extra carries response-level extras; mentions let the template reference
// chat members by placeholder.
type Extra struct {
	Mentions map[string]MentionRef `json:"mentions,omitempty"`
}

// MentionRef resolves a {{#mentions.<id>}} placeholder to a member key.
type MentionRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Text builds a single simpleText response.
func Text(text string) *Response {
	return &Response{
		Version:  Version,
		Template: &Template{Outputs: []Output{{SimpleText: &SimpleText{Text: text}}}},
	}
}

// Wait builds the immediate useCallback answer shown while a deferred task
// runs.
func Wait(loadingText string) *Response {
	return &Response{
		Version:     Version,
		UseCallback: true,
		Data:        map[string]string{"loadingText": loadingText},
	}
}

// Cards builds a response from prebuilt outputs.
func Cards(outputs ...Output) *Response {
	return &Response{
		Version:  Version,
		Template: &Template{Outputs: outputs},
	}
}
