package monitor

import (
	"time"

	"github.com/makt28/mandown/internal/store"
)

// Diff returns the sites of previous whose status in fresh differs from
// the stored one, carrying the new status and checkedAt. Sites absent from
// fresh are not reported. Order follows previous.
func Diff(previous []store.Site, fresh map[int64]int, checkedAt time.Time) []store.Site {
	var changed []store.Site
	for _, site := range previous {
		status, ok := fresh[site.ID]
		if !ok || status == site.Status {
			continue
		}
		site.Status = status
		site.LastChecked = checkedAt
		changed = append(changed, site)
	}
	return changed
}
