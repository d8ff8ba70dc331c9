package listview

// DefaultStep is the number of items shown first and added by each More.
const DefaultStep = 6

// Pager tracks how many items of a filtered list are visible. It is a value
// type: views keep it between requests and pass it back.
type Pager struct {
	Step      int    `json:"step"`
	Visible   int    `json:"visible"`
	Signature string `json:"signature"`
}

// NewPager starts at one step.
func NewPager(step int) Pager {
	if step <= 0 {
		step = DefaultStep
	}
	return Pager{Step: step, Visible: step}
}

// Apply resets the visible count when the filter signature changed.
func (p Pager) Apply(signature string) Pager {
	if p.Step <= 0 {
		p.Step = DefaultStep
	}
	if signature != p.Signature || p.Visible <= 0 {
		p.Visible = p.Step
		p.Signature = signature
	}
	return p
}

// More grows the visible count by one step.
func (p Pager) More() Pager {
	if p.Step <= 0 {
		p.Step = DefaultStep
	}
	p.Visible += p.Step
	return p
}
