package botrule

// RuleName identifies what a rule extracts.
type RuleName string

const (
	BookName        RuleName = "BookName"
	ChapterList     RuleName = "ChapterList"
	ChapterTitle    RuleName = "ChapterTitle"
	Content         RuleName = "Content"
	IndexNextPage   RuleName = "IndexNextPage"
	ContentNextPage RuleName = "ContentNextPage"
)

// Known reports whether n is one of the documented rule names. Unknown names
// are still stored.
func (n RuleName) Known() bool {
	switch n {
	case BookName, ChapterList, ChapterTitle, Content, IndexNextPage, ContentNextPage:
		return true
	}
	return false
}

// RuleType selects single-match or all-matches extraction.
type RuleType string

const (
	TypeObject RuleType = "Object"
	TypeList   RuleType = "List"
)

// Rule is the public shape of a stored rule. Optional fields render as JSON
// null when unset, except RemoveSelector which is omitted.
type Rule struct {
	Host             string    `json:"host"`
	RuleName         RuleName  `json:"ruleName"`
	Selector         string    `json:"selector"`
	Type             *RuleType `json:"type"`
	GetContentAction *string   `json:"getContentAction"`
	GetURLAction     *string   `json:"getUrlAction"`
	CheckSetting     *string   `json:"checkSetting"`
	RemoveSelector   []string  `json:"removeSelector,omitempty"`
}

// RuleInput is one element of a replace request. Fields the client did not
// send stay nil.
type RuleInput struct {
	Host             string          `json:"host"`
	RuleName         RuleName        `json:"ruleName"`
	Selector         string          `json:"selector"`
	RemoveSelector   removeSelectors `json:"removeSelector"`
	GetContentAction *string         `json:"getContentAction"`
	GetURLAction     *string         `json:"getUrlAction"`
	Type             *string         `json:"type"`
	CheckSetting     *string         `json:"checkSetting"`
}
