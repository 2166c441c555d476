package navigation

// View is the kind of screen the route resolved to.
type View string

const (
	ViewAdd      View = "add"
	ViewEdit     View = "edit"
	ViewView     View = "view"
	ViewReminder View = "reminder"
)

// Context is the read-only description of the current navigation target,
// derived from the route. The guard only reads it; nothing mutates it.
type Context struct {
	FlowID        string
	View          View
	Tab           string
	SubResourceID *int64
	Flags         map[string]bool
}

func (c Context) HasFlag(flag string) bool {
	return c.Flags[flag]
}
