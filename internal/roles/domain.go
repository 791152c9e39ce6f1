package roles

// Role describes a legacy role and the numeric user level it implies.
type Role struct {
	Name        string
	Description string
	Level       int
}

// Defaults mirrors the role set legacy user records were written with.
var Defaults = []Role{
	{Name: "administrator", Description: "Full access", Level: 10},
	{Name: "editor", Description: "Publishes and manages all content", Level: 7},
	{Name: "author", Description: "Publishes own content", Level: 2},
	{Name: "contributor", Description: "Writes drafts", Level: 1},
	{Name: "subscriber", Description: "Reads content", Level: 0},
}
