// Package notify tracks back-office notification counts for the admin
// portal: new contact messages, quote requests, client signups, and file
// uploads. The server side exposes the current totals; the client side
// polls them and raises an alert whenever a category grows.
package notify

// Category names one notification bucket shown in the admin header.
type Category string

const (
	CategoryContacts Category = "contacts"
	CategoryQuotes   Category = "quotes"
	CategorySignups  Category = "signups"
	CategoryUploads  Category = "uploads"
)

// Categories lists every bucket in display order.
var Categories = []Category{CategoryContacts, CategoryQuotes, CategorySignups, CategoryUploads}

// Valid reports whether c is one of the known buckets.
func (c Category) Valid() bool {
	switch c {
	case CategoryContacts, CategoryQuotes, CategorySignups, CategoryUploads:
		return true
	}
	return false
}

// Counts is a point-in-time snapshot of all four totals.
type Counts struct {
	Contacts int64 `json:"contacts"`
	Quotes   int64 `json:"quotes"`
	Signups  int64 `json:"signups"`
	Uploads  int64 `json:"uploads"`
}

// Get returns the total for one category.
func (c Counts) Get(cat Category) int64 {
	switch cat {
	case CategoryContacts:
		return c.Contacts
	case CategoryQuotes:
		return c.Quotes
	case CategorySignups:
		return c.Signups
	case CategoryUploads:
		return c.Uploads
	}
	return 0
}

func (c *Counts) add(cat Category, n int64) {
	switch cat {
	case CategoryContacts:
		c.Contacts += n
	case CategoryQuotes:
		c.Quotes += n
	case CategorySignups:
		c.Signups += n
	case CategoryUploads:
		c.Uploads += n
	}
}

// Delta describes one category that grew between two snapshots.
type Delta struct {
	Category Category
	Delta    int64
	Total    int64
}

// IncreasesOver lists the categories where c exceeds prev, in display
// order. Decreases are ignored: an admin clearing their inbox is not
// something to chime about.
func (c Counts) IncreasesOver(prev Counts) []Delta {
	var out []Delta
	for _, cat := range Categories {
		if d := c.Get(cat) - prev.Get(cat); d > 0 {
			out = append(out, Delta{Category: cat, Delta: d, Total: c.Get(cat)})
		}
	}
	return out
}
